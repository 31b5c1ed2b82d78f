package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryReorderUpdatesAllRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("FROM (VALUES ($2::uuid, 1), ($3::uuid, 2), ($4::uuid, 3)) AS v(id, position)")).
		WithArgs("course-1", "s-b", "s-c", "s-a").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := repo.Reorder(context.Background(), "course-1", []string{"s-b", "s-c", "s-a"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryReorderRejectsPartialMatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Reorder(context.Background(), "course-1", []string{"s-b", "s-missing"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
