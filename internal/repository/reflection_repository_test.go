package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formatio-api/internal/models"
)

func TestReflectionRepositoryUpsertResponse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReflectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (enrollment_id, question_id) DO UPDATE SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	response := &models.ReflectionResponse{
		EnrollmentID:  "enr-1",
		QuestionID:    "q-1",
		CohortID:      "cohort-1",
		SessionID:     "sess-1",
		SessionNumber: 2,
		ResponseText:  "reflection text",
		Status:        models.ReflectionStatusSubmitted,
	}
	err := repo.UpsertResponse(context.Background(), response)
	require.NoError(t, err)
	require.NotEmpty(t, response.ID)
	require.False(t, response.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReflectionRepositoryGrade(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReflectionRepository(db)

	markedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	feedback := "well argued"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reflection_responses SET status = $2, feedback = $3, marked_by = $4, marked_at = $5")).
		WithArgs("resp-1", models.ReflectionStatusPassed, &feedback, "grader-1", markedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Grade(context.Background(), "resp-1", models.ReflectionStatusPassed, &feedback, "grader-1", markedAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReflectionRepositoryCountPassedBySession(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReflectionRepository(db)

	rows := sqlmock.NewRows([]string{"passed", "total"}).AddRow(2, 3)
	mock.ExpectQuery("COUNT").WithArgs("enr-1", "sess-1").WillReturnRows(rows)

	passed, total, err := repo.CountPassedBySession(context.Background(), "enr-1", "sess-1")
	require.NoError(t, err)
	require.Equal(t, 2, passed)
	require.Equal(t, 3, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
