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

// CohortRepository handles persistence of cohorts.
type CohortRepository struct {
	db *sqlx.DB
}

// NewCohortRepository constructs the repository.
func NewCohortRepository(db *sqlx.DB) *CohortRepository {
	return &CohortRepository{db: db}
}

const cohortDetailColumns = `co.id, co.course_id, co.name, co.status, co.current_session, co.start_date, co.end_date, co.created_at, co.updated_at,
        c.name AS course_name, c.slug AS course_slug,
        (SELECT COUNT(*) FROM enrollments e WHERE e.cohort_id = co.id AND e.role = 'STUDENT' AND e.status <> 'withdrawn') AS student_count`

// List returns cohorts filtered by the provided criteria.
func (r *CohortRepository) List(ctx context.Context, filter models.CohortFilter) ([]models.CohortDetail, int, error) {
	base := `FROM cohorts co JOIN courses c ON c.id = co.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("co.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("co.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if !filter.IncludeArchived {
		conditions = append(conditions, "co.status <> 'withdrawn'")
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY co.start_date DESC NULLS LAST, co.created_at DESC LIMIT %d OFFSET %d`,
		cohortDetailColumns, base+clause, size, offset)

	var cohorts []models.CohortDetail
	if err := r.db.SelectContext(ctx, &cohorts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cohorts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cohorts: %w", err)
	}
	return cohorts, total, nil
}

// FindByID returns a cohort by its ID.
func (r *CohortRepository) FindByID(ctx context.Context, id string) (*models.Cohort, error) {
	const query = `SELECT id, course_id, name, status, current_session, start_date, end_date, created_at, updated_at FROM cohorts WHERE id = $1`
	var cohort models.Cohort
	if err := r.db.GetContext(ctx, &cohort, query, id); err != nil {
		return nil, err
	}
	return &cohort, nil
}

// FindDetailByID returns a cohort with course context and student count.
func (r *CohortRepository) FindDetailByID(ctx context.Context, id string) (*models.CohortDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts co JOIN courses c ON c.id = co.course_id WHERE co.id = $1`, cohortDetailColumns)
	var detail models.CohortDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a new cohort.
func (r *CohortRepository) Create(ctx context.Context, cohort *models.Cohort) error {
	if cohort.ID == "" {
		cohort.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cohort.CreatedAt.IsZero() {
		cohort.CreatedAt = now
	}
	cohort.UpdatedAt = now
	if cohort.Status == "" {
		cohort.Status = models.CohortStatusScheduled
	}
	const query = `INSERT INTO cohorts (id, course_id, name, status, current_session, start_date, end_date, created_at, updated_at)
        VALUES (:id, :course_id, :name, :status, :current_session, :start_date, :end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cohort); err != nil {
		return fmt.Errorf("create cohort: %w", err)
	}
	return nil
}

// Update persists admin edits to a cohort.
func (r *CohortRepository) Update(ctx context.Context, cohort *models.Cohort) error {
	cohort.UpdatedAt = time.Now().UTC()
	const query = `UPDATE cohorts SET name = :name, status = :status, current_session = :current_session,
        start_date = :start_date, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, cohort)
	if err != nil {
		return fmt.Errorf("update cohort: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatus sets the stored status only.
func (r *CohortRepository) UpdateStatus(ctx context.Context, id string, status models.CohortStatus) error {
	const query = `UPDATE cohorts SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update cohort status: %w", err)
	}
	return nil
}
