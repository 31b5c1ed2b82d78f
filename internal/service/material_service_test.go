package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/webhooks"
)

type fakeMaterialStore struct {
	materials map[string]models.Material
	order     []string
	states    []string
}

func (f *fakeMaterialStore) ListBySession(ctx context.Context, sessionID string) ([]models.Material, error) {
	var out []models.Material
	for _, m := range f.materials {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMaterialStore) FindByID(ctx context.Context, id string) (*models.Material, error) {
	if m, ok := f.materials[id]; ok {
		return &m, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeMaterialStore) FindByAssetID(ctx context.Context, assetID string) (*models.Material, error) {
	for _, m := range f.materials {
		if m.VideoAssetID != nil && *m.VideoAssetID == assetID {
			return &m, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeMaterialStore) FindByUploadID(ctx context.Context, uploadID string) (*models.Material, error) {
	for _, m := range f.materials {
		if m.VideoUploadID != nil && *m.VideoUploadID == uploadID {
			return &m, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeMaterialStore) Create(ctx context.Context, material *models.Material) error {
	if f.materials == nil {
		f.materials = make(map[string]models.Material)
	}
	if material.ID == "" {
		material.ID = fmt.Sprintf("mat-%d", len(f.materials)+1)
	}
	f.materials[material.ID] = *material
	return nil
}

func (f *fakeMaterialStore) Update(ctx context.Context, material *models.Material) error {
	if _, ok := f.materials[material.ID]; !ok {
		return sql.ErrNoRows
	}
	f.materials[material.ID] = *material
	return nil
}

func (f *fakeMaterialStore) RecordUpload(ctx context.Context, id, uploadID string) error {
	m, ok := f.materials[id]
	if !ok {
		return sql.ErrNoRows
	}
	m.VideoUploadID = &uploadID
	f.materials[id] = m
	return nil
}

func (f *fakeMaterialStore) UpdateVideoState(ctx context.Context, id string, status models.VideoStatus, assetID, playbackID *string) error {
	m, ok := f.materials[id]
	if !ok {
		return sql.ErrNoRows
	}
	m.VideoStatus = &status
	if assetID != nil {
		m.VideoAssetID = assetID
	}
	if playbackID != nil {
		m.PlaybackID = playbackID
	}
	f.materials[id] = m
	f.states = append(f.states, fmt.Sprintf("%s:%s", id, status))
	return nil
}

func (f *fakeMaterialStore) Reorder(ctx context.Context, sessionID string, orderedIDs []string) error {
	f.order = orderedIDs
	return nil
}

func (f *fakeMaterialStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.materials[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.materials, id)
	return nil
}

type fakeWebhookLog struct {
	seen map[string]bool
}

func (f *fakeWebhookLog) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := event.Provider + ":" + event.EventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeFileStorage struct {
	saved   map[string][]byte
	deleted []string
}

func (f *fakeFileStorage) SaveStream(filename string, r io.Reader) (string, error) {
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.saved[filename] = data
	return filename, nil
}

func (f *fakeFileStorage) Delete(filename string) error {
	f.deleted = append(f.deleted, filename)
	delete(f.saved, filename)
	return nil
}

const muxTestSecret = "mux_test_secret"

func newMaterialFixture() (*MaterialService, *fakeMaterialStore, *fakeWebhookLog, *fakeFileStorage) {
	store := &fakeMaterialStore{materials: map[string]models.Material{}}
	events := &fakeWebhookLog{}
	files := &fakeFileStorage{}
	svc := NewMaterialService(store, events, files, validator.New(), zap.NewNop(), MaterialConfig{
		WebhookSecret:    muxTestSecret,
		WebhookTolerance: 5 * time.Minute,
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf"},
	})
	return svc, store, events, files
}

func signedMux(payload []byte) string {
	return webhooks.Sign(payload, muxTestSecret, time.Now())
}

func TestMaterialCreateLinkRequiresURL(t *testing.T) {
	svc, _, _, _ := newMaterialFixture()

	_, err := svc.Create(context.Background(), CreateMaterialRequest{
		SessionID: "33333333-3333-4333-8333-333333333333",
		Type:      models.MaterialTypeLink,
		Title:     "Reading list",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRequest.Code, appErrors.FromError(err).Code)
}

func TestMaterialCreateVideoStartsPending(t *testing.T) {
	svc, store, _, _ := newMaterialFixture()

	created, err := svc.Create(context.Background(), CreateMaterialRequest{
		SessionID: "33333333-3333-4333-8333-333333333333",
		Type:      models.MaterialTypeVideo,
		Title:     "Intro lecture",
	})
	require.NoError(t, err)
	require.NotNil(t, created.VideoStatus)
	assert.Equal(t, models.VideoStatusPending, *created.VideoStatus)
	assert.Len(t, store.materials, 1)
}

func TestMaterialAttachFileChecksTypeAndLimits(t *testing.T) {
	svc, store, _, files := newMaterialFixture()
	ctx := context.Background()

	store.materials["doc-1"] = models.Material{ID: "doc-1", Type: models.MaterialTypeDocument, Title: "Workbook"}
	store.materials["vid-1"] = models.Material{ID: "vid-1", Type: models.MaterialTypeVideo, Title: "Lecture"}

	_, err := svc.AttachFile(ctx, "vid-1", "notes.pdf", "application/pdf", 10, bytes.NewReader([]byte("x")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRequest.Code, appErrors.FromError(err).Code)

	_, err = svc.AttachFile(ctx, "doc-1", "notes.pdf", "application/pdf", 4096, bytes.NewReader([]byte("x")))
	require.Error(t, err)

	_, err = svc.AttachFile(ctx, "doc-1", "notes.exe", "application/octet-stream", 10, bytes.NewReader([]byte("x")))
	require.Error(t, err)

	updated, err := svc.AttachFile(ctx, "doc-1", "notes.pdf", "application/pdf", 10, bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	require.NotNil(t, updated.FilePath)
	assert.Equal(t, "doc-1-notes.pdf", *updated.FilePath)
	assert.Equal(t, []byte("content"), files.saved["doc-1-notes.pdf"])
}

func TestMaterialAttachFileReplacesPrevious(t *testing.T) {
	svc, store, _, files := newMaterialFixture()

	old := "doc-1-old.pdf"
	store.materials["doc-1"] = models.Material{ID: "doc-1", Type: models.MaterialTypeDocument, Title: "Workbook", FilePath: &old}

	_, err := svc.AttachFile(context.Background(), "doc-1", "new.pdf", "application/pdf", 10, bytes.NewReader([]byte("v2")))
	require.NoError(t, err)
	assert.Contains(t, files.deleted, old)
}

func TestMuxWebhookRejectsBadSignature(t *testing.T) {
	svc, _, _, _ := newMaterialFixture()

	payload := []byte(`{"id":"evt-1","type":"video.asset.ready","data":{}}`)
	_, err := svc.HandleMuxWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestMuxWebhookDuplicateAcked(t *testing.T) {
	svc, store, _, _ := newMaterialFixture()
	ctx := context.Background()

	pending := models.VideoStatusPending
	store.materials["mat-1"] = models.Material{ID: "mat-1", Type: models.MaterialTypeVideo, VideoStatus: &pending}

	payload := []byte(`{"id":"evt-1","type":"video.upload.asset_created","data":{"id":"asset-1","passthrough":"mat-1"}}`)

	first, err := svc.HandleMuxWebhook(ctx, payload, signedMux(payload))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.HandleMuxWebhook(ctx, payload, signedMux(payload))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	// The state change applied exactly once.
	assert.Len(t, store.states, 1)
}

// Exercises the full correlation chain: asset_created lands via passthrough,
// ready lands via asset id after the passthrough is dropped, and errored
// falls back to the upload id.
func TestMuxWebhookCorrelationChain(t *testing.T) {
	svc, store, _, _ := newMaterialFixture()
	ctx := context.Background()

	pending := models.VideoStatusPending
	upload := "upload-1"
	store.materials["mat-1"] = models.Material{
		ID:            "mat-1",
		Type:          models.MaterialTypeVideo,
		VideoStatus:   &pending,
		VideoUploadID: &upload,
	}

	created := []byte(`{"id":"evt-1","type":"video.upload.asset_created","data":{"id":"asset-1","upload_id":"upload-1","passthrough":"mat-1"}}`)
	_, err := svc.HandleMuxWebhook(ctx, created, signedMux(created))
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusProcessing, *store.materials["mat-1"].VideoStatus)
	require.NotNil(t, store.materials["mat-1"].VideoAssetID)
	assert.Equal(t, "asset-1", *store.materials["mat-1"].VideoAssetID)

	ready := []byte(`{"id":"evt-2","type":"video.asset.ready","data":{"id":"asset-1","playback_ids":[{"id":"pb-1"}]}}`)
	_, err = svc.HandleMuxWebhook(ctx, ready, signedMux(ready))
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusReady, *store.materials["mat-1"].VideoStatus)
	require.NotNil(t, store.materials["mat-1"].PlaybackID)
	assert.Equal(t, "pb-1", *store.materials["mat-1"].PlaybackID)

	errored := []byte(`{"id":"evt-3","type":"video.asset.errored","data":{"upload_id":"upload-1"}}`)
	_, err = svc.HandleMuxWebhook(ctx, errored, signedMux(errored))
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusErrored, *store.materials["mat-1"].VideoStatus)
}

func TestMuxWebhookUnmatchedEventIsAcked(t *testing.T) {
	svc, store, _, _ := newMaterialFixture()

	payload := []byte(`{"id":"evt-9","type":"video.asset.ready","data":{"id":"asset-unknown"}}`)
	ack, err := svc.HandleMuxWebhook(context.Background(), payload, signedMux(payload))
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.Empty(t, store.states)
}

func TestMaterialReorderRequiresIDs(t *testing.T) {
	svc, store, _, _ := newMaterialFixture()

	err := svc.Reorder(context.Background(), "sess-1", nil)
	require.Error(t, err)

	require.NoError(t, svc.Reorder(context.Background(), "sess-1", []string{"b", "a"}))
	assert.Equal(t, []string{"b", "a"}, store.order)
}
