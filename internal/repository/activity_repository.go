package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formatio-api/internal/models"
)

// ActivityRepository appends and reads the activity log.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append writes one activity entry. The log is append-only.
func (r *ActivityRepository) Append(ctx context.Context, entry *models.ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO activity_log (id, cohort_id, actor_id, actor_name, action, session_number, detail, created_at)
        VALUES (:id, :cohort_id, :actor_id, :actor_name, :action, :session_number, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append activity entry: %w", err)
	}
	return nil
}

// ListRecent returns a cohort's entries newer than the cutoff, capped.
func (r *ActivityRepository) ListRecent(ctx context.Context, cohortID string, since time.Time, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, cohort_id, actor_id, actor_name, action, session_number, detail, created_at
        FROM activity_log
        WHERE cohort_id = $1 AND created_at >= $2
        ORDER BY created_at DESC
        LIMIT $3`
	var entries []models.ActivityEntry
	if err := r.db.SelectContext(ctx, &entries, query, cohortID, since, limit); err != nil {
		return nil, fmt.Errorf("list recent activity: %w", err)
	}
	return entries, nil
}

// CountSubmissionsSince counts submission entries per cohort after the cutoff,
// used by the daily digest.
func (r *ActivityRepository) CountSubmissionsSince(ctx context.Context, cohortID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM activity_log
        WHERE cohort_id = $1 AND created_at >= $2 AND action IN ($3, $4)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, cohortID, since,
		models.ActivityReflectionSubmitted, models.ActivityReflectionResubmitted); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}
