package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/webhooks"
)

type materialRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Material, error)
	FindByID(ctx context.Context, id string) (*models.Material, error)
	FindByAssetID(ctx context.Context, assetID string) (*models.Material, error)
	FindByUploadID(ctx context.Context, uploadID string) (*models.Material, error)
	Create(ctx context.Context, material *models.Material) error
	Update(ctx context.Context, material *models.Material) error
	RecordUpload(ctx context.Context, id, uploadID string) error
	UpdateVideoState(ctx context.Context, id string, status models.VideoStatus, assetID, playbackID *string) error
	Reorder(ctx context.Context, sessionID string, orderedIDs []string) error
	Delete(ctx context.Context, id string) error
}

type materialWebhookLog interface {
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
}

type materialFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Delete(filename string) error
}

// CreateMaterialRequest is the payload for attaching content to a session.
type CreateMaterialRequest struct {
	SessionID string              `json:"session_id" validate:"required,uuid4"`
	Type      models.MaterialType `json:"type" validate:"required,oneof=video document link"`
	Title     string              `json:"title" validate:"required,min=2"`
	URL       *string             `json:"url,omitempty" validate:"omitempty,url"`
}

// UpdateMaterialRequest edits a material.
type UpdateMaterialRequest struct {
	Title *string `json:"title,omitempty" validate:"omitempty,min=2"`
	URL   *string `json:"url,omitempty" validate:"omitempty,url"`
}

// muxEvent is the envelope of a video pipeline webhook delivery.
type muxEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID          string `json:"id"`
		UploadID    string `json:"upload_id"`
		Passthrough string `json:"passthrough"`
		Status      string `json:"status"`
		PlaybackIDs []struct {
			ID string `json:"id"`
		} `json:"playback_ids"`
	} `json:"data"`
}

// MaterialConfig holds video webhook verification and upload settings.
type MaterialConfig struct {
	WebhookSecret    string
	WebhookTolerance time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// MaterialService manages session materials, document uploads and the
// video pipeline correlation.
type MaterialService struct {
	repo      materialRepository
	events    materialWebhookLog
	files     materialFileStorage
	validator *validator.Validate
	logger    *zap.Logger
	config    MaterialConfig
}

// NewMaterialService constructs a MaterialService instance.
func NewMaterialService(repo materialRepository, events materialWebhookLog, files materialFileStorage, validate *validator.Validate, logger *zap.Logger, config MaterialConfig) *MaterialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &MaterialService{repo: repo, events: events, files: files, validator: validate, logger: logger, config: config}
}

// ListBySession returns a session's materials in display order.
func (s *MaterialService) ListBySession(ctx context.Context, sessionID string) ([]models.Material, error) {
	materials, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list materials")
	}
	return materials, nil
}

// Create attaches a material to a session.
func (s *MaterialService) Create(ctx context.Context, req CreateMaterialRequest) (*models.Material, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid material payload")
	}
	if req.Type == models.MaterialTypeLink && req.URL == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "link materials require a url")
	}
	material := &models.Material{
		SessionID: req.SessionID,
		Type:      req.Type,
		Title:     req.Title,
		URL:       req.URL,
	}
	if req.Type == models.MaterialTypeVideo {
		pending := models.VideoStatusPending
		material.VideoStatus = &pending
	}
	if err := s.repo.Create(ctx, material); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create material")
	}
	return material, nil
}

// Update edits a material's title or url.
func (s *MaterialService) Update(ctx context.Context, id string, req UpdateMaterialRequest) (*models.Material, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid material payload")
	}
	material, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	if req.Title != nil {
		material.Title = *req.Title
	}
	if req.URL != nil {
		material.URL = req.URL
	}
	if err := s.repo.Update(ctx, material); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update material")
	}
	return material, nil
}

// Reorder applies a new display order to a session's materials.
func (s *MaterialService) Reorder(ctx context.Context, sessionID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "ordered ids required")
	}
	if err := s.repo.Reorder(ctx, sessionID, orderedIDs); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "reorder did not match the session's materials")
	}
	return nil
}

// Delete removes a material.
func (s *MaterialService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete material")
	}
	return nil
}

// AttachFile stores an uploaded document and points the material at it.
// Size and MIME limits come from configuration; oversize payloads should
// already have been rejected at the transport, this re-checks defensively
// against the declared size only.
func (s *MaterialService) AttachFile(ctx context.Context, id, filename, mimeType string, size int64, r io.Reader) (*models.Material, error) {
	material, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	if material.Type != models.MaterialTypeDocument {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "only document materials accept file uploads")
	}
	if s.config.MaxFileSizeBytes > 0 && size > s.config.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "file exceeds the upload size limit")
	}
	if len(s.config.AllowedMIMEs) > 0 && !mimeAllowed(s.config.AllowedMIMEs, mimeType) {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "file type not allowed")
	}

	stored := fmt.Sprintf("%s-%s", material.ID, filepath.Base(filename))
	relPath, err := s.files.SaveStream(stored, r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	previous := material.FilePath
	material.FilePath = &relPath
	if err := s.repo.Update(ctx, material); err != nil {
		_ = s.files.Delete(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update material")
	}
	if previous != nil && *previous != relPath {
		if err := s.files.Delete(*previous); err != nil {
			s.logger.Warn("failed to remove replaced file",
				zap.String("material_id", material.ID), zap.String("path", *previous), zap.Error(err))
		}
	}
	return material, nil
}

func mimeAllowed(allowed []string, mimeType string) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, mimeType) {
			return true
		}
	}
	return false
}

// RegisterUpload records the direct-upload identifiers handed back by the
// video pipeline. The material id rides along as passthrough so webhook
// events can be correlated back without guessing.
func (s *MaterialService) RegisterUpload(ctx context.Context, materialID, uploadID string) error {
	material, err := s.repo.FindByID(ctx, materialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	if material.Type != models.MaterialTypeVideo {
		return appErrors.Clone(appErrors.ErrInvalidRequest, "only video materials accept uploads")
	}
	if err := s.repo.RecordUpload(ctx, materialID, uploadID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record upload")
	}
	return nil
}

// HandleMuxWebhook verifies, deduplicates and applies one video pipeline
// event. Correlation prefers the passthrough material id, then the asset id,
// then the upload id. Processing failures are logged and swallowed so the
// sender stops retrying.
func (s *MaterialService) HandleMuxWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookAck, error) {
	if err := webhooks.VerifySignature(payload, signatureHeader, s.config.WebhookSecret, s.config.WebhookTolerance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid webhook signature")
	}

	var event muxEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "malformed webhook payload")
	}
	if event.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "webhook event id missing")
	}

	recorded, err := s.events.RecordWebhookEvent(ctx, &models.WebhookEvent{
		Provider:  "mux",
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   payload,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record webhook event")
	}
	if !recorded {
		s.logger.Info("duplicate webhook delivery acknowledged",
			zap.String("provider", "mux"), zap.String("event_id", event.ID))
		return &WebhookAck{Received: true, Duplicate: true, EventType: event.Type}, nil
	}

	if err := s.applyVideoEvent(ctx, event); err != nil {
		s.logger.Error("video webhook processing failed",
			zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
	}
	return &WebhookAck{Received: true, EventType: event.Type}, nil
}

func (s *MaterialService) applyVideoEvent(ctx context.Context, event muxEvent) error {
	material, err := s.correlate(ctx, event)
	if err != nil {
		return err
	}
	if material == nil {
		s.logger.Warn("video event matched no material",
			zap.String("type", event.Type),
			zap.String("passthrough", event.Data.Passthrough),
			zap.String("asset_id", event.Data.ID),
			zap.String("upload_id", event.Data.UploadID))
		return nil
	}

	var assetID, playbackID *string
	if event.Data.ID != "" {
		assetID = &event.Data.ID
	}
	if len(event.Data.PlaybackIDs) > 0 {
		playbackID = &event.Data.PlaybackIDs[0].ID
	}

	switch event.Type {
	case "video.upload.asset_created":
		return s.repo.UpdateVideoState(ctx, material.ID, models.VideoStatusProcessing, assetID, nil)
	case "video.asset.ready":
		return s.repo.UpdateVideoState(ctx, material.ID, models.VideoStatusReady, assetID, playbackID)
	case "video.asset.errored":
		return s.repo.UpdateVideoState(ctx, material.ID, models.VideoStatusErrored, assetID, nil)
	default:
		s.logger.Debug("ignoring unhandled video event type", zap.String("type", event.Type))
		return nil
	}
}

func (s *MaterialService) correlate(ctx context.Context, event muxEvent) (*models.Material, error) {
	if event.Data.Passthrough != "" {
		material, err := s.repo.FindByID(ctx, event.Data.Passthrough)
		if err == nil {
			return material, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	if event.Data.ID != "" {
		material, err := s.repo.FindByAssetID(ctx, event.Data.ID)
		if err == nil {
			return material, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	if event.Data.UploadID != "" {
		material, err := s.repo.FindByUploadID(ctx, event.Data.UploadID)
		if err == nil {
			return material, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, nil
}
