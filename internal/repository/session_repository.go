package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formatio-api/internal/models"
)

// SessionRepository handles courses' numbered sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, course_id, session_number, title, description, created_at, updated_at`

// ListByCourse returns a course's sessions ordered by their number.
func (r *SessionRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE course_id = $1 ORDER BY session_number ASC`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, courseID); err != nil {
		return nil, fmt.Errorf("list course sessions: %w", err)
	}
	return sessions, nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// CountByCourse returns how many sessions a course carries.
func (r *SessionRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE course_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID); err != nil {
		return 0, fmt.Errorf("count course sessions: %w", err)
	}
	return count, nil
}

// Create appends a session at the end of the course's sequence unless a
// session number was supplied.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.SessionNumber <= 0 {
		const next = `SELECT COALESCE(MAX(session_number), 0) + 1 FROM sessions WHERE course_id = $1`
		if err := r.db.GetContext(ctx, &session.SessionNumber, next, session.CourseID); err != nil {
			return fmt.Errorf("next session number: %w", err)
		}
	}
	const query = `INSERT INTO sessions (id, course_id, session_number, title, description, created_at, updated_at)
        VALUES (:id, :course_id, :session_number, :title, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Update rewrites a session's title and description.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sessions SET title = :title, description = :description, updated_at = :updated_at
        WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reorder renumbers a course's sessions in one statement from the ordered id
// list. All rows change atomically, so concurrent readers never observe a
// half-applied ordering.
func (r *SessionRepository) Reorder(ctx context.Context, courseID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return nil
	}
	values := make([]string, len(orderedIDs))
	args := make([]interface{}, 0, len(orderedIDs)+1)
	args = append(args, courseID)
	for i, id := range orderedIDs {
		values[i] = fmt.Sprintf("($%d::uuid, %d)", len(args)+1, i+1)
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE sessions AS s SET session_number = v.position, updated_at = NOW()
        FROM (VALUES %s) AS v(id, position)
        WHERE s.id = v.id AND s.course_id = $1`, strings.Join(values, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reorder sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reorder sessions rows: %w", err)
	}
	if int(rows) != len(orderedIDs) {
		return fmt.Errorf("reorder sessions: expected %d rows, moved %d", len(orderedIDs), rows)
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
