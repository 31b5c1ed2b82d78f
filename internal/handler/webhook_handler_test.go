package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/service"
	"github.com/noah-isme/formatio-api/pkg/webhooks"
)

type materialRepoMock struct {
	materials map[string]models.Material
	states    []models.VideoStatus
}

func (m *materialRepoMock) ListBySession(ctx context.Context, sessionID string) ([]models.Material, error) {
	return nil, nil
}

func (m *materialRepoMock) FindByID(ctx context.Context, id string) (*models.Material, error) {
	if mat, ok := m.materials[id]; ok {
		return &mat, nil
	}
	return nil, sql.ErrNoRows
}

func (m *materialRepoMock) FindByAssetID(ctx context.Context, assetID string) (*models.Material, error) {
	return nil, sql.ErrNoRows
}

func (m *materialRepoMock) FindByUploadID(ctx context.Context, uploadID string) (*models.Material, error) {
	return nil, sql.ErrNoRows
}

func (m *materialRepoMock) Create(ctx context.Context, material *models.Material) error { return nil }

func (m *materialRepoMock) Update(ctx context.Context, material *models.Material) error { return nil }

func (m *materialRepoMock) RecordUpload(ctx context.Context, id, uploadID string) error { return nil }

func (m *materialRepoMock) UpdateVideoState(ctx context.Context, id string, status models.VideoStatus, assetID, playbackID *string) error {
	m.states = append(m.states, status)
	return nil
}

func (m *materialRepoMock) Reorder(ctx context.Context, sessionID string, orderedIDs []string) error {
	return nil
}

func (m *materialRepoMock) Delete(ctx context.Context, id string) error { return nil }

type webhookLogMock struct {
	seen map[string]bool
}

func (m *webhookLogMock) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	key := event.Provider + ":" + event.EventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

const webhookTestSecret = "mux_handler_secret"

func newWebhookFixture() (*WebhookHandler, *materialRepoMock) {
	repo := &materialRepoMock{materials: map[string]models.Material{
		"mat-1": {ID: "mat-1", Type: models.MaterialTypeVideo},
	}}
	materials := service.NewMaterialService(repo, &webhookLogMock{}, nil, nil, nil, service.MaterialConfig{
		WebhookSecret:    webhookTestSecret,
		WebhookTolerance: 5 * time.Minute,
	})
	return NewWebhookHandler(nil, materials, service.NewMetricsService()), repo
}

func postWebhook(handler func(*gin.Context), path, signature string, payload []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Mux-Signature", signature)
	}
	c.Request = req
	handler(c)
	return w
}

func TestMuxWebhookAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newWebhookFixture()

	payload := []byte(`{"id":"evt-1","type":"video.asset.ready","data":{"id":"asset-1","passthrough":"mat-1","playback_ids":[{"id":"pb-1"}]}}`)
	w := postWebhook(handler.Mux, "/webhooks/mux", webhooks.Sign(payload, webhookTestSecret, time.Now()), payload)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.VideoStatus{models.VideoStatusReady}, repo.states)

	body, _ := io.ReadAll(w.Body)
	var envelope struct {
		Data service.WebhookAck `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.True(t, envelope.Data.Received)
	require.False(t, envelope.Data.Duplicate)
}

func TestMuxWebhookDuplicateFlagged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newWebhookFixture()

	payload := []byte(`{"id":"evt-1","type":"video.asset.ready","data":{"id":"asset-1","passthrough":"mat-1"}}`)
	sig := webhooks.Sign(payload, webhookTestSecret, time.Now())

	require.Equal(t, http.StatusOK, postWebhook(handler.Mux, "/webhooks/mux", sig, payload).Code)
	w := postWebhook(handler.Mux, "/webhooks/mux", sig, payload)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data service.WebhookAck `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Data.Duplicate)
	require.Len(t, repo.states, 1)
}

func TestMuxWebhookRejectsMissingSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newWebhookFixture()

	payload := []byte(`{"id":"evt-1","type":"video.asset.ready","data":{}}`)
	w := postWebhook(handler.Mux, "/webhooks/mux", "", payload)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
