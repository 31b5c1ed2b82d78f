package models

import "time"

// MaterialType distinguishes material kinds within a session.
type MaterialType string

const (
	MaterialTypeVideo    MaterialType = "video"
	MaterialTypeDocument MaterialType = "document"
	MaterialTypeLink     MaterialType = "link"
)

// VideoStatus mirrors the processing lifecycle reported by the video
// pipeline's webhooks.
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusErrored    VideoStatus = "errored"
)

// Material is one piece of content attached to a session, ordered by
// Position. Video materials carry correlation identifiers for the external
// processing pipeline: uploads are tagged with the material id as
// passthrough, and webhook events are matched back primarily on that id,
// falling back to asset id, then upload id.
type Material struct {
	ID            string       `db:"id" json:"id"`
	SessionID     string       `db:"session_id" json:"session_id"`
	Type          MaterialType `db:"type" json:"type"`
	Title         string       `db:"title" json:"title"`
	Position      int          `db:"position" json:"position"`
	URL           *string      `db:"url" json:"url,omitempty"`
	FilePath      *string      `db:"file_path" json:"file_path,omitempty"`
	VideoUploadID *string      `db:"video_upload_id" json:"video_upload_id,omitempty"`
	VideoAssetID  *string      `db:"video_asset_id" json:"video_asset_id,omitempty"`
	PlaybackID    *string      `db:"playback_id" json:"playback_id,omitempty"`
	VideoStatus   *VideoStatus `db:"video_status" json:"video_status,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}
