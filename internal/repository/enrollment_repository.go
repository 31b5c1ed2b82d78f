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

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, user_id, cohort_id, role, status, payment_state, current_session, login_count, last_login_at, view_count, created_at, updated_at`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN users u ON u.id = e.user_id
JOIN cohorts co ON co.id = e.cohort_id
JOIN courses c ON c.id = co.course_id`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("e.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CohortID != "" {
		conditions = append(conditions, fmt.Sprintf("e.cohort_id = $%d", len(args)+1))
		args = append(args, filter.CohortID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("co.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Role != "" {
		conditions = append(conditions, fmt.Sprintf("e.role = $%d", len(args)+1))
		args = append(args, filter.Role)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "e.created_at",
		"user_name":  "u.full_name",
	}
	sortBy := allowedSorts[filter.SortBy]
	if sortBy == "" {
		sortBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.user_id, e.cohort_id, e.role, e.status, e.payment_state, e.current_session,
        e.login_count, e.last_login_at, e.view_count, e.created_at, e.updated_at,
        u.full_name AS user_name, u.email AS user_email, co.name AS cohort_name, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, sortBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByUser returns all non-withdrawn enrollments for a user.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND status <> $2`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, userID, models.EnrollmentStatusWithdrawn); err != nil {
		return nil, fmt.Errorf("list user enrollments: %w", err)
	}
	return enrollments, nil
}

// FindByUserAndCohort returns the enrollment joining a user to a cohort.
func (r *EnrollmentRepository) FindByUserAndCohort(ctx context.Context, userID, cohortID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND cohort_id = $2 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, cohortID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsActive checks whether a live enrollment exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, userID, cohortID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE user_id = $1 AND cohort_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, cohortID, models.EnrollmentStatusWithdrawn); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusInvited
	}
	if enrollment.Role == "" {
		enrollment.Role = models.RoleStudent
	}
	if enrollment.PaymentState == "" {
		enrollment.PaymentState = models.PaymentStateUnpaid
	}
	const query = `INSERT INTO enrollments (id, user_id, cohort_id, role, status, payment_state, current_session, login_count, last_login_at, view_count, created_at, updated_at)
        VALUES (:id, :user_id, :cohort_id, :role, :status, :payment_state, :current_session, :login_count, :last_login_at, :view_count, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// RecordLogin applies the login-sync outcome: the (possibly raised) session
// number, an incremented login counter, a fresh login timestamp and active
// status.
func (r *EnrollmentRepository) RecordLogin(ctx context.Context, id string, currentSession int, ts time.Time) error {
	const query = `UPDATE enrollments SET current_session = $2, login_count = login_count + 1,
        last_login_at = $3, status = $4, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, currentSession, ts, models.EnrollmentStatusActive); err != nil {
		return fmt.Errorf("record enrollment login: %w", err)
	}
	return nil
}

// UpdateStatus updates the lifecycle status (withdrawn is the soft delete).
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// UpdateCurrentSession sets a learner's session counter (admin remediation).
func (r *EnrollmentRepository) UpdateCurrentSession(ctx context.Context, id string, session int) error {
	const query = `UPDATE enrollments SET current_session = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, session); err != nil {
		return fmt.Errorf("update enrollment session: %w", err)
	}
	return nil
}

// UpdatePaymentState flips the payment state, e.g. after a completed checkout.
func (r *EnrollmentRepository) UpdatePaymentState(ctx context.Context, id string, state models.PaymentState) error {
	const query = `UPDATE enrollments SET payment_state = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, state); err != nil {
		return fmt.Errorf("update enrollment payment state: %w", err)
	}
	return nil
}

// IncrementViewCount bumps the page view counter.
func (r *EnrollmentRepository) IncrementViewCount(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET view_count = view_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment view count: %w", err)
	}
	return nil
}
