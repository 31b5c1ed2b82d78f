package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type sessionRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	Reorder(ctx context.Context, courseID string, orderedIDs []string) error
	Delete(ctx context.Context, id string) error
}

type sessionQuestionRepository interface {
	ListQuestionsBySession(ctx context.Context, sessionID string) ([]models.ReflectionQuestion, error)
	CreateQuestion(ctx context.Context, question *models.ReflectionQuestion) error
}

// CreateSessionRequest adds a meeting to a course. Session numbers are
// assigned automatically in creation order.
type CreateSessionRequest struct {
	CourseID    string `json:"course_id" validate:"required,uuid4"`
	Title       string `json:"title" validate:"required,min=2"`
	Description string `json:"description"`
}

// UpdateSessionRequest edits a session's descriptive fields.
type UpdateSessionRequest struct {
	Title       *string `json:"title,omitempty" validate:"omitempty,min=2"`
	Description *string `json:"description,omitempty"`
}

// CreateQuestionRequest attaches a reflection prompt to a session.
type CreateQuestionRequest struct {
	SessionID    string `json:"session_id" validate:"required,uuid4"`
	QuestionText string `json:"question_text" validate:"required,min=5"`
}

// SessionService manages course sessions and their reflection prompts.
type SessionService struct {
	repo      sessionRepository
	questions sessionQuestionRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(repo sessionRepository, questions sessionQuestionRepository, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SessionService{repo: repo, questions: questions, validator: validate, logger: logger}
}

// ListByCourse returns a course's sessions in numeric order.
func (s *SessionService) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	sessions, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// GetByID returns one session.
func (s *SessionService) GetByID(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Create appends a session to a course.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid session payload")
	}
	session := &models.Session{
		CourseID:    req.CourseID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return session, nil
}

// Update edits a session's title or description.
func (s *SessionService) Update(ctx context.Context, id string, req UpdateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid session payload")
	}
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if req.Title != nil {
		session.Title = *req.Title
	}
	if req.Description != nil {
		session.Description = *req.Description
	}
	if err := s.repo.Update(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	return session, nil
}

// Reorder renumbers a course's sessions to the supplied order. The order
// must cover exactly the course's sessions or nothing changes.
func (s *SessionService) Reorder(ctx context.Context, courseID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "ordered ids required")
	}
	if err := s.repo.Reorder(ctx, courseID, orderedIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "reorder did not match the course's sessions")
	}
	return nil
}

// Delete removes a session.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	return nil
}

// ListQuestions returns a session's reflection prompts.
func (s *SessionService) ListQuestions(ctx context.Context, sessionID string) ([]models.ReflectionQuestion, error) {
	questions, err := s.questions.ListQuestionsBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list questions")
	}
	return questions, nil
}

// CreateQuestion adds a reflection prompt to a session.
func (s *SessionService) CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*models.ReflectionQuestion, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid question payload")
	}
	if _, err := s.repo.FindByID(ctx, req.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	question := &models.ReflectionQuestion{
		SessionID:    req.SessionID,
		QuestionText: req.QuestionText,
	}
	if err := s.questions.CreateQuestion(ctx, question); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create question")
	}
	return question, nil
}
