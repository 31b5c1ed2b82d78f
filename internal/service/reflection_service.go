package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type reflectionRepository interface {
	FindQuestionByID(ctx context.Context, id string) (*models.ReflectionQuestion, error)
	FindResponseByID(ctx context.Context, id string) (*models.ReflectionResponse, error)
	FindResponseByEnrollmentAndQuestion(ctx context.Context, enrollmentID, questionID string) (*models.ReflectionResponse, error)
	UpsertResponse(ctx context.Context, response *models.ReflectionResponse) error
	Grade(ctx context.Context, id string, status models.ReflectionStatus, feedback *string, markedBy string, markedAt time.Time) error
	ListResponses(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, int, error)
}

type reflectionEnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, userID, cohortID string) (bool, error)
}

type reflectionCohortRepository interface {
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
}

type reflectionActivityRepository interface {
	Append(ctx context.Context, entry *models.ActivityEntry) error
}

type reflectionUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type reflectionFeedRepository interface {
	Create(ctx context.Context, post *models.FeedPost) error
	DeleteByReflection(ctx context.Context, reflectionID string) error
}

// reflectionNotifier delivers feedback notifications out of band.
type reflectionNotifier interface {
	ReflectionGraded(ctx context.Context, responseID string)
}

// SaveReflectionRequest is a learner's save of one answer. Submit false is an
// auto-save; true submits the answer for review.
type SaveReflectionRequest struct {
	EnrollmentID string `json:"enrollment_id" validate:"required,uuid4"`
	QuestionID   string `json:"question_id" validate:"required,uuid4"`
	ResponseText string `json:"response_text" validate:"required"`
	IsPublic     bool   `json:"is_public"`
	Submit       bool   `json:"submit"`
}

// GradeReflectionRequest is a reviewer verdict on a response.
type GradeReflectionRequest struct {
	ResponseID string `json:"response_id" validate:"required,uuid4"`
	Grade      string `json:"grade" validate:"required,oneof=pass fail"`
	Feedback   string `json:"feedback"`
}

// ReflectionService owns the reflection submission and grading workflow.
type ReflectionService struct {
	repo        reflectionRepository
	enrollments reflectionEnrollmentRepository
	cohorts     reflectionCohortRepository
	users       reflectionUserRepository
	activity    reflectionActivityRepository
	feed        reflectionFeedRepository
	notifier    reflectionNotifier
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReflectionService constructs a ReflectionService instance.
func NewReflectionService(
	repo reflectionRepository,
	enrollments reflectionEnrollmentRepository,
	cohorts reflectionCohortRepository,
	users reflectionUserRepository,
	activity reflectionActivityRepository,
	feed reflectionFeedRepository,
	notifier reflectionNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *ReflectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReflectionService{
		repo:        repo,
		enrollments: enrollments,
		cohorts:     cohorts,
		users:       users,
		activity:    activity,
		feed:        feed,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
	}
}

// nextLearnerStatus decides the stored status after a learner save. exists
// reports whether a row is already stored, marked whether a grader has
// reviewed it, submit whether the learner asked to submit rather than
// auto-save. Reviewed and terminal states are locked to the learner;
// auto-saves never downgrade a pending state.
func nextLearnerStatus(current models.ReflectionStatus, exists, marked, submit bool) (models.ReflectionStatus, error) {
	if !exists {
		if submit {
			return models.ReflectionStatusSubmitted, nil
		}
		return models.ReflectionStatusDraft, nil
	}
	switch current {
	case models.ReflectionStatusDraft:
		if submit {
			return models.ReflectionStatusSubmitted, nil
		}
		return models.ReflectionStatusDraft, nil
	case models.ReflectionStatusSubmitted:
		if marked {
			return "", appErrors.Clone(appErrors.ErrForbidden, "reviewed responses cannot be edited")
		}
		return models.ReflectionStatusSubmitted, nil
	case models.ReflectionStatusNeedsRevision:
		if submit {
			return models.ReflectionStatusResubmitted, nil
		}
		return models.ReflectionStatusNeedsRevision, nil
	case models.ReflectionStatusResubmitted:
		return models.ReflectionStatusResubmitted, nil
	case models.ReflectionStatusPassed, models.ReflectionStatusUnderReview:
		return "", appErrors.Clone(appErrors.ErrForbidden, "response is locked for review")
	default:
		return "", appErrors.Clone(appErrors.ErrInvalidRequest, fmt.Sprintf("unknown reflection status %q", current))
	}
}

// Save creates or updates a learner's answer, keyed on the unique
// (enrollment, question) pair.
func (s *ReflectionService) Save(ctx context.Context, userID string, req SaveReflectionRequest) (*models.ReflectionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid reflection payload")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}

	question, err := s.repo.FindQuestionByID(ctx, req.QuestionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reflection question not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
	}

	cohort, err := s.cohorts.FindByID(ctx, enrollment.CohortID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}
	if cohort.CourseID != question.CourseID {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "question does not belong to the enrollment's course")
	}

	existing, err := s.repo.FindResponseByEnrollmentAndQuestion(ctx, req.EnrollmentID, req.QuestionID)
	exists := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing response")
		}
		exists = false
	}

	var current models.ReflectionStatus
	marked := false
	if exists {
		current = existing.Status
		marked = existing.MarkedBy != nil
	}
	next, err := nextLearnerStatus(current, exists, marked, req.Submit)
	if err != nil {
		return nil, err
	}

	response := &models.ReflectionResponse{
		EnrollmentID:  req.EnrollmentID,
		QuestionID:    req.QuestionID,
		CohortID:      enrollment.CohortID,
		SessionID:     question.SessionID,
		SessionNumber: question.SessionNumber,
		ResponseText:  req.ResponseText,
		IsPublic:      req.IsPublic,
		Status:        next,
	}
	if exists {
		response.ID = existing.ID
		response.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.UpsertResponse(ctx, response); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save response")
	}

	actorName := s.actorName(ctx, userID)
	submitted := next == models.ReflectionStatusSubmitted && current != models.ReflectionStatusSubmitted
	resubmitted := next == models.ReflectionStatusResubmitted && current != models.ReflectionStatusResubmitted
	if submitted || resubmitted {
		action := models.ActivityReflectionSubmitted
		if resubmitted {
			action = models.ActivityReflectionResubmitted
		}
		session := question.SessionNumber
		if err := s.activity.Append(ctx, &models.ActivityEntry{
			CohortID:      enrollment.CohortID,
			ActorID:       &userID,
			ActorName:     actorName,
			Action:        action,
			SessionNumber: &session,
			Detail:        fmt.Sprintf("reflection %s for session %d", action, session),
		}); err != nil {
			s.logger.Warn("failed to record reflection activity", zap.Error(err))
		}
	}

	s.syncFeed(ctx, response, actorName)

	return response, nil
}

// Grade records a reviewer verdict: pass marks the response passed, fail
// sends it back for revision. This is the only path that sets marked_by.
func (s *ReflectionService) Grade(ctx context.Context, graderID string, req GradeReflectionRequest) (*models.ReflectionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid grade payload")
	}

	response, err := s.repo.FindResponseByID(ctx, req.ResponseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reflection response not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}

	switch response.Status {
	case models.ReflectionStatusSubmitted, models.ReflectionStatusUnderReview,
		models.ReflectionStatusNeedsRevision, models.ReflectionStatusResubmitted:
	default:
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, fmt.Sprintf("response in status %q cannot be graded", response.Status))
	}

	// Coordinators only grade cohorts they belong to. Admins grade anywhere.
	grader, err := s.users.FindByID(ctx, graderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "grader account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grader")
	}
	if grader.Role == models.RoleCoordinator {
		member, err := s.enrollments.ExistsActive(ctx, graderID, response.CohortID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check cohort membership")
		}
		if !member {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "response belongs to another cohort")
		}
	}

	next := models.ReflectionStatusNeedsRevision
	if req.Grade == "pass" {
		next = models.ReflectionStatusPassed
	}
	var feedback *string
	if req.Feedback != "" {
		feedback = &req.Feedback
	}
	markedAt := time.Now().UTC()
	if err := s.repo.Grade(ctx, response.ID, next, feedback, graderID, markedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade response")
	}
	response.Status = next
	response.Feedback = feedback
	response.MarkedBy = &graderID
	response.MarkedAt = &markedAt

	session := response.SessionNumber
	if err := s.activity.Append(ctx, &models.ActivityEntry{
		CohortID:      response.CohortID,
		ActorID:       &graderID,
		ActorName:     s.actorName(ctx, graderID),
		Action:        models.ActivityReflectionGraded,
		SessionNumber: &session,
		Detail:        fmt.Sprintf("reflection graded %s for session %d", req.Grade, session),
	}); err != nil {
		s.logger.Warn("failed to record grading activity", zap.Error(err))
	}

	if s.notifier != nil {
		s.notifier.ReflectionGraded(ctx, response.ID)
	}

	return response, nil
}

// ListForLearner returns a learner's own responses for an enrollment.
func (s *ReflectionService) ListForLearner(ctx context.Context, userID string, filter models.ReflectionFilter) ([]models.ReflectionDetail, *models.Pagination, error) {
	if filter.EnrollmentID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidRequest, "enrollment_id is required")
	}
	enrollment, err := s.enrollments.FindByID(ctx, filter.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.UserID != userID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}
	return s.list(ctx, filter)
}

// ListForGrading returns the pending review queue, optionally per cohort.
func (s *ReflectionService) ListForGrading(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, *models.Pagination, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = models.PendingReflectionStatuses
	}
	return s.list(ctx, filter)
}

func (s *ReflectionService) list(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, *models.Pagination, error) {
	responses, total, err := s.repo.ListResponses(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list responses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return responses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// syncFeed mirrors public responses onto the cohort feed and removes posts
// for responses made private. Feed failures never fail the save.
func (s *ReflectionService) syncFeed(ctx context.Context, response *models.ReflectionResponse, authorName string) {
	if s.feed == nil {
		return
	}
	if !response.IsPublic {
		if err := s.feed.DeleteByReflection(ctx, response.ID); err != nil {
			s.logger.Warn("failed to remove feed post", zap.Error(err))
		}
		return
	}
	excerpt := truncateExcerpt(response.ResponseText, 280)
	if err := s.feed.Create(ctx, &models.FeedPost{
		CohortID:     response.CohortID,
		ReflectionID: response.ID,
		AuthorName:   authorName,
		Excerpt:      excerpt,
	}); err != nil {
		s.logger.Warn("failed to publish feed post", zap.Error(err))
	}
}

// truncateExcerpt caps text at max bytes without splitting a rune; the
// column is UTF-8 and rejects partial sequences.
func truncateExcerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (s *ReflectionService) actorName(ctx context.Context, userID string) string {
	if s.users == nil || userID == "" {
		return ""
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to resolve actor name", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return user.FullName
}
