package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByUserAndCohort(ctx context.Context, userID, cohortID string) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, userID, cohortID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	UpdateCurrentSession(ctx context.Context, id string, session int) error
	IncrementViewCount(ctx context.Context, id string) error
}

type enrollmentUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
}

type enrollmentCohortRepository interface {
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
}

type enrollmentActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
}

// enrollmentInviter sends invitation mail out of band.
type enrollmentInviter interface {
	EnrollmentInvited(ctx context.Context, email, cohortName string)
}

// InviteEnrollmentRequest is the admin payload for inviting a learner. When
// the email has no account yet, a placeholder user is created and the learner
// completes signup through OTP redemption.
type InviteEnrollmentRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	FullName string          `json:"full_name" validate:"required,min=2"`
	CohortID string          `json:"cohort_id" validate:"required,uuid4"`
	Role     models.UserRole `json:"role" validate:"omitempty,oneof=ADMIN COORDINATOR STUDENT"`
}

// SignupEnrollmentRequest is the self-service payload for joining a cohort.
type SignupEnrollmentRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required,min=2"`
	Password string `json:"password" validate:"required,min=6"`
	CohortID string `json:"cohort_id" validate:"required,uuid4"`
}

// EnrollmentService manages cohort membership.
type EnrollmentService struct {
	repo      enrollmentRepository
	users     enrollmentUserRepository
	cohorts   enrollmentCohortRepository
	activity  enrollmentActivityRepository
	inviter   enrollmentInviter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService instance.
func NewEnrollmentService(
	repo enrollmentRepository,
	users enrollmentUserRepository,
	cohorts enrollmentCohortRepository,
	activity enrollmentActivityRepository,
	inviter enrollmentInviter,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{
		repo:      repo,
		users:     users,
		cohorts:   cohorts,
		activity:  activity,
		inviter:   inviter,
		validator: validate,
		logger:    logger,
	}
}

// List returns enrollments matching the filter.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one enrollment; learners may only fetch their own.
func (s *EnrollmentService) Get(ctx context.Context, id string, requesterID string, requesterRole models.UserRole) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if requesterRole == models.RoleStudent && enrollment.UserID != requesterID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}
	return enrollment, nil
}

// Invite creates an invited enrollment for an email address, creating a
// placeholder account when none exists yet.
func (s *EnrollmentService) Invite(ctx context.Context, actorID, actorName string, req InviteEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid invite payload")
	}

	cohort, err := s.cohorts.FindByID(ctx, req.CohortID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up user")
		}
		user = &models.User{
			Email:    req.Email,
			FullName: req.FullName,
			Role:     models.RoleStudent,
			Active:   true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invited user")
		}
	}

	return s.enroll(ctx, user, cohort, req.Role, models.EnrollmentStatusInvited, actorID, actorName)
}

// Signup creates an account (when needed) and an active enrollment in one go.
func (s *EnrollmentService) Signup(ctx context.Context, req SignupEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid signup payload")
	}

	cohort, err := s.cohorts.FindByID(ctx, req.CohortID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up user")
		}
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if hashErr != nil {
			return nil, appErrors.Wrap(hashErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		user = &models.User{
			Email:        req.Email,
			PasswordHash: string(hash),
			FullName:     req.FullName,
			Role:         models.RoleStudent,
			Active:       true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
		}
	}

	return s.enroll(ctx, user, cohort, models.RoleStudent, models.EnrollmentStatusAccepted, user.ID, user.FullName)
}

func (s *EnrollmentService) enroll(ctx context.Context, user *models.User, cohort *models.Cohort, role models.UserRole, status models.EnrollmentStatus, actorID, actorName string) (*models.Enrollment, error) {
	exists, err := s.repo.ExistsActive(ctx, user.ID, cohort.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user is already enrolled in this cohort")
	}

	if role == "" {
		role = models.RoleStudent
	}
	enrollment := &models.Enrollment{
		UserID:         user.ID,
		CohortID:       cohort.ID,
		Role:           role,
		Status:         status,
		CurrentSession: 0,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if err := s.activity.Append(ctx, &models.ActivityEntry{
		CohortID:  cohort.ID,
		ActorID:   &actorID,
		ActorName: actorName,
		Action:    models.ActivityEnrollmentCreated,
		Detail:    "enrollment created for " + user.Email,
	}); err != nil {
		s.logger.Warn("failed to record enrollment activity", zap.Error(err))
	}

	if status == models.EnrollmentStatusInvited && s.inviter != nil {
		s.inviter.EnrollmentInvited(ctx, user.Email, cohort.Name)
	}

	return enrollment, nil
}

// Withdraw soft deletes an enrollment.
func (s *EnrollmentService) Withdraw(ctx context.Context, id, actorID, actorName string) error {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusWithdrawn); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	if err := s.activity.Append(ctx, &models.ActivityEntry{
		CohortID:  enrollment.CohortID,
		ActorID:   &actorID,
		ActorName: actorName,
		Action:    models.ActivityEnrollmentWithdrawn,
		Detail:    "enrollment withdrawn",
	}); err != nil {
		s.logger.Warn("failed to record withdrawal activity", zap.Error(err))
	}
	return nil
}

// SetCurrentSession is the admin remediation path: it may move the learner's
// counter in either direction and is never overridden by later login syncs.
func (s *EnrollmentService) SetCurrentSession(ctx context.Context, id string, session int) error {
	if session < 0 {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "session must not be negative")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.UpdateCurrentSession(ctx, id, session); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set session")
	}
	return nil
}

// TrackView bumps the learner's page view counter. Failures are swallowed;
// the counter is observational.
func (s *EnrollmentService) TrackView(ctx context.Context, id string) {
	if err := s.repo.IncrementViewCount(ctx, id); err != nil {
		s.logger.Warn("failed to increment view count", zap.String("enrollment_id", id), zap.Error(err))
	}
}
