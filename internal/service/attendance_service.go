package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type attendanceRepository interface {
	Upsert(ctx context.Context, record *models.AttendanceRecord) error
	ListByCohort(ctx context.Context, cohortID string) ([]models.AttendanceRecord, error)
}

type attendanceEnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	ExistsActive(ctx context.Context, userID, cohortID string) (bool, error)
}

type attendanceCohortRepository interface {
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
}

type attendanceUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type attendanceActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
}

// MarkAttendanceRequest records one mark for an enrollment at a session.
// Present is a pointer so an explicit false is distinguishable from a
// missing field.
type MarkAttendanceRequest struct {
	EnrollmentID  string `json:"enrollment_id" validate:"required,uuid4"`
	SessionNumber int    `json:"session_number" validate:"required,min=1"`
	Present       *bool  `json:"present" validate:"required"`
}

// AttendanceRow is one enrollment's marks across a cohort's sessions.
type AttendanceRow struct {
	EnrollmentID string                    `json:"enrollment_id"`
	UserName     string                    `json:"user_name"`
	UserEmail    string                    `json:"user_email"`
	Marks        []models.AttendanceRecord `json:"marks"`
}

// AttendanceGrid is the per-cohort roster with every recorded mark.
type AttendanceGrid struct {
	CohortID string          `json:"cohort_id"`
	Rows     []AttendanceRow `json:"rows"`
}

// AttendanceService owns session attendance marking for cohort staff.
type AttendanceService struct {
	repo        attendanceRepository
	enrollments attendanceEnrollmentRepository
	cohorts     attendanceCohortRepository
	users       attendanceUserRepository
	activity    attendanceActivityRepository
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs an AttendanceService instance.
func NewAttendanceService(
	repo attendanceRepository,
	enrollments attendanceEnrollmentRepository,
	cohorts attendanceCohortRepository,
	users attendanceUserRepository,
	activity attendanceActivityRepository,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AttendanceService{
		repo:        repo,
		enrollments: enrollments,
		cohorts:     cohorts,
		users:       users,
		activity:    activity,
		validator:   validate,
		logger:      logger,
	}
}

// Mark upserts one attendance mark. Re-marking the same (enrollment,
// session) pair overwrites the previous value.
func (s *AttendanceService) Mark(ctx context.Context, markerID string, req MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid attendance payload")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.requireCohortStaff(ctx, markerID, enrollment.CohortID); err != nil {
		return nil, err
	}

	record := &models.AttendanceRecord{
		EnrollmentID:  req.EnrollmentID,
		CohortID:      enrollment.CohortID,
		SessionNumber: req.SessionNumber,
		Present:       *req.Present,
		MarkedBy:      &markerID,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attendance")
	}

	session := req.SessionNumber
	verdict := "absent"
	if *req.Present {
		verdict = "present"
	}
	if err := s.activity.Append(ctx, &models.ActivityEntry{
		CohortID:      enrollment.CohortID,
		ActorID:       &markerID,
		ActorName:     s.markerName(ctx, markerID),
		Action:        models.ActivityAttendanceMarked,
		SessionNumber: &session,
		Detail:        fmt.Sprintf("attendance marked %s for session %d", verdict, session),
	}); err != nil {
		s.logger.Warn("failed to record attendance activity", zap.Error(err))
	}

	return record, nil
}

// Grid returns the cohort roster with every recorded mark, one row per
// active enrollment.
func (s *AttendanceService) Grid(ctx context.Context, cohortID string) (*AttendanceGrid, error) {
	if cohortID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "cohort id is required")
	}
	if _, err := s.cohorts.FindByID(ctx, cohortID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}

	filter := models.EnrollmentFilter{
		CohortID: cohortID,
		Status:   models.EnrollmentStatusActive,
		PageSize: attendanceRosterPage,
	}
	var roster []models.EnrollmentDetail
	for page := 1; ; page++ {
		filter.Page = page
		batch, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
		}
		roster = append(roster, batch...)
		if len(batch) == 0 || len(roster) >= total {
			break
		}
	}

	records, err := s.repo.ListByCohort(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	byEnrollment := make(map[string][]models.AttendanceRecord, len(roster))
	for _, record := range records {
		byEnrollment[record.EnrollmentID] = append(byEnrollment[record.EnrollmentID], record)
	}

	grid := &AttendanceGrid{CohortID: cohortID, Rows: make([]AttendanceRow, 0, len(roster))}
	for _, enrollment := range roster {
		marks := byEnrollment[enrollment.ID]
		if marks == nil {
			marks = []models.AttendanceRecord{}
		}
		grid.Rows = append(grid.Rows, AttendanceRow{
			EnrollmentID: enrollment.ID,
			UserName:     enrollment.UserName,
			UserEmail:    enrollment.UserEmail,
			Marks:        marks,
		})
	}
	return grid, nil
}

// attendanceRosterPage is the roster page size when building a grid; the
// repository caps pages at this size.
const attendanceRosterPage = 100

// requireCohortStaff allows admins anywhere and coordinators only in
// cohorts they actively belong to.
func (s *AttendanceService) requireCohortStaff(ctx context.Context, markerID, cohortID string) error {
	marker, err := s.users.FindByID(ctx, markerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "marker account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marker")
	}
	if marker.Role == models.RoleCoordinator {
		member, err := s.enrollments.ExistsActive(ctx, markerID, cohortID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check cohort membership")
		}
		if !member {
			return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another cohort")
		}
	}
	return nil
}

func (s *AttendanceService) markerName(ctx context.Context, userID string) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to resolve marker name", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return user.FullName
}
