package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formatio-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryListByUser(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "cohort_id", "role", "status", "payment_state",
		"current_session", "login_count", "last_login_at", "view_count", "created_at", "updated_at",
	}).AddRow("enr-1", "user-1", "cohort-1", models.RoleStudent, models.EnrollmentStatusActive,
		models.PaymentStatePaid, 3, 5, now, 12, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE user_id = $1 AND status <> $2")).
		WithArgs("user-1", models.EnrollmentStatusWithdrawn).
		WillReturnRows(rows)

	enrollments, err := repo.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.Equal(t, 3, enrollments[0].CurrentSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordLogin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET current_session = $2, login_count = login_count + 1")).
		WithArgs("enr-1", 4, ts, models.EnrollmentStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordLogin(context.Background(), "enr-1", 4, ts)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActiveNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE user_id = $1 AND cohort_id = $2")).
		WithArgs("user-1", "cohort-1", models.EnrollmentStatusWithdrawn).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsActive(context.Background(), "user-1", "cohort-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
