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

// MaterialRepository handles session materials and their video correlation
// identifiers.
type MaterialRepository struct {
	db *sqlx.DB
}

// NewMaterialRepository constructs the repository.
func NewMaterialRepository(db *sqlx.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

const materialColumns = `id, session_id, type, title, position, url, file_path, video_upload_id, video_asset_id, playback_id, video_status, created_at, updated_at`

// ListBySession returns a session's materials in display order.
func (r *MaterialRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Material, error) {
	query := fmt.Sprintf(`SELECT %s FROM materials WHERE session_id = $1 ORDER BY position ASC`, materialColumns)
	var materials []models.Material
	if err := r.db.SelectContext(ctx, &materials, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session materials: %w", err)
	}
	return materials, nil
}

// FindByID returns a material by its ID.
func (r *MaterialRepository) FindByID(ctx context.Context, id string) (*models.Material, error) {
	query := fmt.Sprintf(`SELECT %s FROM materials WHERE id = $1`, materialColumns)
	var material models.Material
	if err := r.db.GetContext(ctx, &material, query, id); err != nil {
		return nil, err
	}
	return &material, nil
}

// FindByAssetID returns the material owning a video asset.
func (r *MaterialRepository) FindByAssetID(ctx context.Context, assetID string) (*models.Material, error) {
	query := fmt.Sprintf(`SELECT %s FROM materials WHERE video_asset_id = $1 LIMIT 1`, materialColumns)
	var material models.Material
	if err := r.db.GetContext(ctx, &material, query, assetID); err != nil {
		return nil, err
	}
	return &material, nil
}

// FindByUploadID returns the material that initiated a video upload.
func (r *MaterialRepository) FindByUploadID(ctx context.Context, uploadID string) (*models.Material, error) {
	query := fmt.Sprintf(`SELECT %s FROM materials WHERE video_upload_id = $1 LIMIT 1`, materialColumns)
	var material models.Material
	if err := r.db.GetContext(ctx, &material, query, uploadID); err != nil {
		return nil, err
	}
	return &material, nil
}

// Create appends a material at the end of the session's ordering unless a
// position was supplied.
func (r *MaterialRepository) Create(ctx context.Context, material *models.Material) error {
	if material.ID == "" {
		material.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	material.CreatedAt = now
	material.UpdatedAt = now
	if material.Position <= 0 {
		const next = `SELECT COALESCE(MAX(position), 0) + 1 FROM materials WHERE session_id = $1`
		if err := r.db.GetContext(ctx, &material.Position, next, material.SessionID); err != nil {
			return fmt.Errorf("next material position: %w", err)
		}
	}
	const query = `INSERT INTO materials (id, session_id, type, title, position, url, file_path,
        video_upload_id, video_asset_id, playback_id, video_status, created_at, updated_at)
        VALUES (:id, :session_id, :type, :title, :position, :url, :file_path,
        :video_upload_id, :video_asset_id, :playback_id, :video_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, material); err != nil {
		return fmt.Errorf("create material: %w", err)
	}
	return nil
}

// Update rewrites a material's editable fields.
func (r *MaterialRepository) Update(ctx context.Context, material *models.Material) error {
	material.UpdatedAt = time.Now().UTC()
	const query = `UPDATE materials SET title = :title, type = :type, url = :url, file_path = :file_path,
        updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, material)
	if err != nil {
		return fmt.Errorf("update material: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update material rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordUpload stores the upload correlation ids handed back by the video
// pipeline when a direct upload is created.
func (r *MaterialRepository) RecordUpload(ctx context.Context, id, uploadID string) error {
	const query = `UPDATE materials SET video_upload_id = $2, video_status = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, uploadID, models.VideoStatusPending); err != nil {
		return fmt.Errorf("record material upload: %w", err)
	}
	return nil
}

// UpdateVideoState applies a webhook-reported processing transition.
func (r *MaterialRepository) UpdateVideoState(ctx context.Context, id string, status models.VideoStatus, assetID, playbackID *string) error {
	const query = `UPDATE materials SET video_status = $2,
        video_asset_id = COALESCE($3, video_asset_id),
        playback_id = COALESCE($4, playback_id),
        updated_at = NOW()
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, assetID, playbackID); err != nil {
		return fmt.Errorf("update material video state: %w", err)
	}
	return nil
}

// Reorder renumbers a session's materials in one set-based statement.
func (r *MaterialRepository) Reorder(ctx context.Context, sessionID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return nil
	}
	values := make([]string, len(orderedIDs))
	args := make([]interface{}, 0, len(orderedIDs)+1)
	args = append(args, sessionID)
	for i, id := range orderedIDs {
		values[i] = fmt.Sprintf("($%d::uuid, %d)", len(args)+1, i+1)
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE materials AS m SET position = v.position, updated_at = NOW()
        FROM (VALUES %s) AS v(id, position)
        WHERE m.id = v.id AND m.session_id = $1`, strings.Join(values, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reorder materials: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reorder materials rows: %w", err)
	}
	if int(rows) != len(orderedIDs) {
		return fmt.Errorf("reorder materials: expected %d rows, moved %d", len(orderedIDs), rows)
	}
	return nil
}

// Delete removes a material.
func (r *MaterialRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM materials WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete material rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
