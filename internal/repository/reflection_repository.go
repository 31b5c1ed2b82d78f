package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formatio-api/internal/models"
)

// ReflectionRepository handles reflection questions and learner responses.
type ReflectionRepository struct {
	db *sqlx.DB
}

// NewReflectionRepository constructs the repository.
func NewReflectionRepository(db *sqlx.DB) *ReflectionRepository {
	return &ReflectionRepository{db: db}
}

// FindQuestionByID returns a single question.
func (r *ReflectionRepository) FindQuestionByID(ctx context.Context, id string) (*models.ReflectionQuestion, error) {
	const query = `SELECT q.id, q.session_id, s.session_number, s.course_id, q.question_text, q.created_at
        FROM reflection_questions q
        JOIN sessions s ON s.id = q.session_id
        WHERE q.id = $1`
	var question models.ReflectionQuestion
	if err := r.db.GetContext(ctx, &question, query, id); err != nil {
		return nil, err
	}
	return &question, nil
}

// ListQuestionsBySession returns the prompts attached to a session.
func (r *ReflectionRepository) ListQuestionsBySession(ctx context.Context, sessionID string) ([]models.ReflectionQuestion, error) {
	const query = `SELECT q.id, q.session_id, s.session_number, s.course_id, q.question_text, q.created_at
        FROM reflection_questions q
        JOIN sessions s ON s.id = q.session_id
        WHERE q.session_id = $1
        ORDER BY q.created_at ASC`
	var questions []models.ReflectionQuestion
	if err := r.db.SelectContext(ctx, &questions, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}
	return questions, nil
}

// CreateQuestion persists a new reflection prompt.
func (r *ReflectionRepository) CreateQuestion(ctx context.Context, question *models.ReflectionQuestion) error {
	if question.ID == "" {
		question.ID = uuid.NewString()
	}
	if question.CreatedAt.IsZero() {
		question.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reflection_questions (id, session_id, question_text, created_at)
        VALUES (:id, :session_id, :question_text, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, question); err != nil {
		return fmt.Errorf("create reflection question: %w", err)
	}
	return nil
}

// FindResponseByID returns a single response.
func (r *ReflectionRepository) FindResponseByID(ctx context.Context, id string) (*models.ReflectionResponse, error) {
	const query = `SELECT id, enrollment_id, question_id, cohort_id, session_id, session_number, response_text,
        is_public, status, feedback, marked_by, marked_at, created_at, updated_at
        FROM reflection_responses WHERE id = $1`
	var response models.ReflectionResponse
	if err := r.db.GetContext(ctx, &response, query, id); err != nil {
		return nil, err
	}
	return &response, nil
}

// FindResponseByEnrollmentAndQuestion returns the unique response row for the
// (enrollment, question) pair, so save and grade decisions see the latest
// status.
func (r *ReflectionRepository) FindResponseByEnrollmentAndQuestion(ctx context.Context, enrollmentID, questionID string) (*models.ReflectionResponse, error) {
	const query = `SELECT id, enrollment_id, question_id, cohort_id, session_id, session_number, response_text,
        is_public, status, feedback, marked_by, marked_at, created_at, updated_at
        FROM reflection_responses WHERE enrollment_id = $1 AND question_id = $2`
	var response models.ReflectionResponse
	if err := r.db.GetContext(ctx, &response, query, enrollmentID, questionID); err != nil {
		return nil, err
	}
	return &response, nil
}

// UpsertResponse inserts a response or, on the (enrollment_id, question_id)
// conflict, rewrites its text, visibility and status. Grader fields are never
// touched here.
func (r *ReflectionRepository) UpsertResponse(ctx context.Context, response *models.ReflectionResponse) error {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if response.CreatedAt.IsZero() {
		response.CreatedAt = now
	}
	response.UpdatedAt = now
	const query = `INSERT INTO reflection_responses (id, enrollment_id, question_id, cohort_id, session_id, session_number,
        response_text, is_public, status, created_at, updated_at)
        VALUES (:id, :enrollment_id, :question_id, :cohort_id, :session_id, :session_number,
        :response_text, :is_public, :status, :created_at, :updated_at)
        ON CONFLICT (enrollment_id, question_id) DO UPDATE SET
        response_text = EXCLUDED.response_text,
        is_public = EXCLUDED.is_public,
        status = EXCLUDED.status,
        updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, response); err != nil {
		return fmt.Errorf("upsert reflection response: %w", err)
	}
	return nil
}

// Grade records the reviewer verdict on a response.
func (r *ReflectionRepository) Grade(ctx context.Context, id string, status models.ReflectionStatus, feedback *string, markedBy string, markedAt time.Time) error {
	const query = `UPDATE reflection_responses SET status = $2, feedback = $3, marked_by = $4, marked_at = $5, updated_at = $5
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, feedback, markedBy, markedAt); err != nil {
		return fmt.Errorf("grade reflection response: %w", err)
	}
	return nil
}

// MarkUnderReview moves a submitted response into the reviewer's queue.
func (r *ReflectionRepository) MarkUnderReview(ctx context.Context, id string) error {
	const query = `UPDATE reflection_responses SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ReflectionStatusUnderReview); err != nil {
		return fmt.Errorf("mark reflection under review: %w", err)
	}
	return nil
}

// ListResponses returns enriched responses matching the filter.
func (r *ReflectionRepository) ListResponses(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, int, error) {
	base := `FROM reflection_responses rr
JOIN enrollments e ON e.id = rr.enrollment_id
JOIN users u ON u.id = e.user_id
JOIN cohorts co ON co.id = rr.cohort_id
JOIN reflection_questions q ON q.id = rr.question_id`
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("rr.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.CohortID != "" {
		conditions = append(conditions, fmt.Sprintf("rr.cohort_id = $%d", len(args)+1))
		args = append(args, filter.CohortID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("rr.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("rr.status IN (%s)", strings.Join(placeholders, ", ")))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT rr.id, rr.enrollment_id, rr.question_id, rr.cohort_id, rr.session_id, rr.session_number,
        rr.response_text, rr.is_public, rr.status, rr.feedback, rr.marked_by, rr.marked_at, rr.created_at, rr.updated_at,
        u.full_name AS user_name, u.email AS user_email, q.question_text, co.name AS cohort_name
        %s ORDER BY rr.updated_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var responses []models.ReflectionDetail
	if err := r.db.SelectContext(ctx, &responses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list reflection responses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count reflection responses: %w", err)
	}
	return responses, total, nil
}

// CountPassedBySession returns, for an enrollment, how many responses in a
// session have passed review versus how many questions the session carries.
func (r *ReflectionRepository) CountPassedBySession(ctx context.Context, enrollmentID, sessionID string) (passed, total int, err error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE rr.status = 'passed') AS passed,
        (SELECT COUNT(*) FROM reflection_questions WHERE session_id = $2) AS total
        FROM reflection_responses rr
        WHERE rr.enrollment_id = $1 AND rr.session_id = $2`
	row := r.db.QueryRowxContext(ctx, query, enrollmentID, sessionID)
	if err := row.Scan(&passed, &total); err != nil {
		return 0, 0, fmt.Errorf("count passed responses: %w", err)
	}
	return passed, total, nil
}
