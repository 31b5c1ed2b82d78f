package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formatio-api/internal/models"
)

// FeedRepository handles the cohort community feed.
type FeedRepository struct {
	db *sqlx.DB
}

// NewFeedRepository constructs the repository.
func NewFeedRepository(db *sqlx.DB) *FeedRepository {
	return &FeedRepository{db: db}
}

// ListByCohort returns a cohort's feed, pinned posts first, then newest.
func (r *FeedRepository) ListByCohort(ctx context.Context, cohortID string, limit int) ([]models.FeedPost, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	const query = `SELECT id, cohort_id, reflection_id, author_name, excerpt, pinned, created_at
        FROM feed_posts
        WHERE cohort_id = $1
        ORDER BY pinned DESC, created_at DESC
        LIMIT $2`
	var posts []models.FeedPost
	if err := r.db.SelectContext(ctx, &posts, query, cohortID, limit); err != nil {
		return nil, fmt.Errorf("list feed posts: %w", err)
	}
	return posts, nil
}

// FindByID returns a single feed post.
func (r *FeedRepository) FindByID(ctx context.Context, id string) (*models.FeedPost, error) {
	const query = `SELECT id, cohort_id, reflection_id, author_name, excerpt, pinned, created_at
        FROM feed_posts WHERE id = $1`
	var post models.FeedPost
	if err := r.db.GetContext(ctx, &post, query, id); err != nil {
		return nil, err
	}
	return &post, nil
}

// Create publishes a reflection excerpt onto the feed.
func (r *FeedRepository) Create(ctx context.Context, post *models.FeedPost) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO feed_posts (id, cohort_id, reflection_id, author_name, excerpt, pinned, created_at)
        VALUES (:id, :cohort_id, :reflection_id, :author_name, :excerpt, :pinned, :created_at)
        ON CONFLICT (reflection_id) DO UPDATE SET
        author_name = EXCLUDED.author_name,
        excerpt = EXCLUDED.excerpt`
	if _, err := r.db.NamedExecContext(ctx, query, post); err != nil {
		return fmt.Errorf("create feed post: %w", err)
	}
	return nil
}

// SetPinned pins or unpins a post.
func (r *FeedRepository) SetPinned(ctx context.Context, id string, pinned bool) error {
	const query = `UPDATE feed_posts SET pinned = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, pinned)
	if err != nil {
		return fmt.Errorf("pin feed post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("pin feed post rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByReflection removes a reflection's feed post when it is made private.
func (r *FeedRepository) DeleteByReflection(ctx context.Context, reflectionID string) error {
	const query = `DELETE FROM feed_posts WHERE reflection_id = $1`
	if _, err := r.db.ExecContext(ctx, query, reflectionID); err != nil {
		return fmt.Errorf("delete feed post: %w", err)
	}
	return nil
}
