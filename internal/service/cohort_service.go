package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type cohortRepository interface {
	List(ctx context.Context, filter models.CohortFilter) ([]models.CohortDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
	FindDetailByID(ctx context.Context, id string) (*models.CohortDetail, error)
	Create(ctx context.Context, cohort *models.Cohort) error
	Update(ctx context.Context, cohort *models.Cohort) error
	UpdateStatus(ctx context.Context, id string, status models.CohortStatus) error
}

type cohortActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
}

// CreateCohortRequest is the payload for scheduling a new cohort.
type CreateCohortRequest struct {
	CourseID  string     `json:"course_id" validate:"required,uuid4"`
	Name      string     `json:"name" validate:"required,min=3"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// UpdateCohortRequest is the payload for editing a cohort. CurrentSession
// moves the cohort clock; advancing it is logged.
type UpdateCohortRequest struct {
	Name           *string    `json:"name,omitempty" validate:"omitempty,min=3"`
	CurrentSession *int       `json:"current_session,omitempty" validate:"omitempty,min=0"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
}

// CohortService manages cohort lifecycle and presentation.
type CohortService struct {
	repo      cohortRepository
	activity  cohortActivityRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCohortService constructs a CohortService instance.
func NewCohortService(repo cohortRepository, activity cohortActivityRepository, validate *validator.Validate, logger *zap.Logger) *CohortService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CohortService{repo: repo, activity: activity, validator: validate, logger: logger}
}

// List returns cohorts with their presented status resolved from the clock.
func (s *CohortService) List(ctx context.Context, filter models.CohortFilter) ([]models.CohortDetail, *models.Pagination, error) {
	cohorts, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cohorts")
	}
	for i := range cohorts {
		cohorts[i].Status = ResolveCohortStatus(cohorts[i].Status, cohorts[i].CurrentSession)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return cohorts, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one cohort with resolved status.
func (s *CohortService) Get(ctx context.Context, id string) (*models.CohortDetail, error) {
	cohort, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}
	cohort.Status = ResolveCohortStatus(cohort.Status, cohort.CurrentSession)
	return cohort, nil
}

// Create schedules a new cohort with its clock at zero.
func (s *CohortService) Create(ctx context.Context, req CreateCohortRequest) (*models.Cohort, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid cohort payload")
	}
	cohort := &models.Cohort{
		CourseID:       req.CourseID,
		Name:           req.Name,
		Status:         models.CohortStatusScheduled,
		CurrentSession: 0,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	}
	if err := s.repo.Create(ctx, cohort); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create cohort")
	}
	return cohort, nil
}

// Update edits a cohort; moving the clock forward appends an activity entry.
func (s *CohortService) Update(ctx context.Context, id, actorID, actorName string, req UpdateCohortRequest) (*models.Cohort, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid cohort payload")
	}

	cohort, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}

	previousSession := cohort.CurrentSession
	if req.Name != nil {
		cohort.Name = *req.Name
	}
	if req.CurrentSession != nil {
		cohort.CurrentSession = *req.CurrentSession
	}
	if req.StartDate != nil {
		cohort.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		cohort.EndDate = req.EndDate
	}

	if err := s.repo.Update(ctx, cohort); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update cohort")
	}

	if cohort.CurrentSession > previousSession {
		session := cohort.CurrentSession
		if err := s.activity.Append(ctx, &models.ActivityEntry{
			CohortID:      cohort.ID,
			ActorID:       &actorID,
			ActorName:     actorName,
			Action:        models.ActivitySessionAdvanced,
			SessionNumber: &session,
			Detail:        fmt.Sprintf("cohort advanced from session %d to %d", previousSession, session),
		}); err != nil {
			s.logger.Warn("failed to record session advance activity", zap.Error(err))
		}
	}

	return cohort, nil
}

// Archive marks a cohort withdrawn. The stored value is sticky from then on.
func (s *CohortService) Archive(ctx context.Context, id string) error {
	if err := s.repo.UpdateStatus(ctx, id, models.CohortStatusWithdrawn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive cohort")
	}
	return nil
}

// Complete marks a cohort finished. Derivation never overrides this.
func (s *CohortService) Complete(ctx context.Context, id string) error {
	if err := s.repo.UpdateStatus(ctx, id, models.CohortStatusCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete cohort")
	}
	return nil
}
