package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formatio-api/internal/models"
)

// AttendanceRepository persists per-session attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert records a mark, overwriting any previous mark for the same
// enrollment and session number.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO attendance_records
        (id, enrollment_id, cohort_id, session_number, present, marked_by, created_at, updated_at)
        VALUES (:id, :enrollment_id, :cohort_id, :session_number, :present, :marked_by, :created_at, :updated_at)
        ON CONFLICT (enrollment_id, session_number) DO UPDATE
        SET present = EXCLUDED.present,
            marked_by = EXCLUDED.marked_by,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert attendance record: %w", err)
	}
	return nil
}

// ListByCohort returns every mark for a cohort, grid order.
func (r *AttendanceRepository) ListByCohort(ctx context.Context, cohortID string) ([]models.AttendanceRecord, error) {
	const query = `SELECT id, enrollment_id, cohort_id, session_number, present, marked_by, created_at, updated_at
        FROM attendance_records
        WHERE cohort_id = $1
        ORDER BY enrollment_id, session_number ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, cohortID); err != nil {
		return nil, fmt.Errorf("list cohort attendance: %w", err)
	}
	return records, nil
}
