package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type feedRepository interface {
	ListByCohort(ctx context.Context, cohortID string, limit int) ([]models.FeedPost, error)
	FindByID(ctx context.Context, id string) (*models.FeedPost, error)
	SetPinned(ctx context.Context, id string, pinned bool) error
}

// FeedService serves the cohort community feed. Posts are created by the
// reflection flow when a learner shares publicly; this service only reads
// and curates them.
type FeedService struct {
	repo   feedRepository
	logger *zap.Logger
}

// NewFeedService constructs a FeedService instance.
func NewFeedService(repo feedRepository, logger *zap.Logger) *FeedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedService{repo: repo, logger: logger}
}

// List returns a cohort's feed, pinned posts first, then newest first.
func (s *FeedService) List(ctx context.Context, cohortID string, limit int) ([]models.FeedPost, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	posts, err := s.repo.ListByCohort(ctx, cohortID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list feed")
	}
	return posts, nil
}

// SetPinned pins or unpins a post. Curation is an admin capability.
func (s *FeedService) SetPinned(ctx context.Context, postID string, pinned bool, role models.UserRole) (*models.FeedPost, error) {
	if role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can curate the feed")
	}
	if err := s.repo.SetPinned(ctx, postID, pinned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "feed post not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update feed post")
	}
	post, err := s.repo.FindByID(ctx, postID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feed post")
	}
	return post, nil
}
