package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/repository"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/jobs"
	"github.com/noah-isme/formatio-api/pkg/storage"
)

type fakeExportJobStore struct {
	jobs map[string]models.ExportJob
}

func (f *fakeExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	if f.jobs == nil {
		f.jobs = make(map[string]models.ExportJob)
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(f.jobs)+1)
	}
	job.CreatedAt = time.Now().UTC()
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeExportJobStore) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if j, ok := f.jobs[id]; ok {
		return &j, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeExportJobStore) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	j, ok := f.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		j.Status = *params.Status
	}
	if params.ResultPath != nil {
		j.ResultPath = params.ResultPath
	}
	if params.ResultURL != nil {
		j.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		j.FinishedAt = params.FinishedAt
	}
	f.jobs[id] = j
	return nil
}

func (f *fakeExportJobStore) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, j := range f.jobs {
		if j.Status == models.ExportStatusQueued {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeExportEnrollments struct {
	rows []models.EnrollmentDetail
}

func (f *fakeExportEnrollments) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return f.rows, len(f.rows), nil
}

type fakeExportReflections struct {
	rows []models.ReflectionDetail
}

func (f *fakeExportReflections) ListResponses(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, int, error) {
	return f.rows, len(f.rows), nil
}

type fakeDispatcher struct {
	enqueued []jobs.Job
	fail     bool
}

func (f *fakeDispatcher) Enqueue(job jobs.Job) error {
	if f.fail {
		return errors.New("queue full")
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

const exportCohortID = "44444444-4444-4444-8444-444444444444"

func newExportFixture(t *testing.T) (*ExportService, *fakeExportJobStore, *fakeDispatcher) {
	t.Helper()

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	store := &fakeExportJobStore{jobs: map[string]models.ExportJob{}}
	queue := &fakeDispatcher{}
	lastLogin := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	enrollments := &fakeExportEnrollments{rows: []models.EnrollmentDetail{
		{
			Enrollment: models.Enrollment{
				Role:           models.RoleStudent,
				Status:         models.EnrollmentStatusActive,
				PaymentState:   models.PaymentStatePaid,
				CurrentSession: 4,
				LoginCount:     12,
				LastLoginAt:    &lastLogin,
			},
			UserName:   "Ada Learner",
			UserEmail:  "ada@example.com",
			CohortName: "Spring Cohort",
		},
	}}
	reflections := &fakeExportReflections{}
	signer := storage.NewSignedURLSigner("export_test_secret", time.Hour)

	svc := NewExportService(store, enrollments, reflections, files, signer, queue, validator.New(), zap.NewNop(), ExportServiceConfig{
		APIPrefix: "/api/v1",
		ResultTTL: time.Hour,
	})
	return svc, store, queue
}

func TestExportCreateJobQueues(t *testing.T) {
	svc, store, queue := newExportFixture(t)

	job, err := svc.CreateJob(context.Background(), CreateExportRequest{
		Type:     models.ExportTypeRoster,
		CohortID: exportCohortID,
		Format:   models.ExportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	assert.Equal(t, "admin-1", job.CreatedBy)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
	assert.Contains(t, store.jobs, job.ID)
}

func TestExportCreateJobRejectsUnknownType(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	_, err := svc.CreateJob(context.Background(), CreateExportRequest{
		Type:     "grades",
		CohortID: exportCohortID,
		Format:   models.ExportFormatCSV,
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRequest.Code, appErrors.FromError(err).Code)
}

func TestExportCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	svc, store, queue := newExportFixture(t)
	queue.fail = true

	_, err := svc.CreateJob(context.Background(), CreateExportRequest{
		Type:     models.ExportTypeRoster,
		CohortID: exportCohortID,
		Format:   models.ExportFormatCSV,
	}, "admin-1")
	require.Error(t, err)

	require.Len(t, store.jobs, 1)
	for _, j := range store.jobs {
		assert.Equal(t, models.ExportStatusFailed, j.Status)
		require.NotNil(t, j.ErrorMessage)
	}
}

func TestExportRosterCSVRoundTrip(t *testing.T) {
	svc, store, queue := newExportFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateExportRequest{
		Type:     models.ExportTypeRoster,
		CohortID: exportCohortID,
		Format:   models.ExportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)

	require.NoError(t, svc.ProcessJob(ctx, queue.enqueued[0]))

	finished := store.jobs[job.ID]
	assert.Equal(t, models.ExportStatusFinished, finished.Status)
	require.NotNil(t, finished.ResultURL)
	assert.True(t, strings.HasPrefix(*finished.ResultURL, "/api/v1/exports/download/"))
	require.NotNil(t, finished.FinishedAt)

	token := (*finished.ResultURL)[strings.LastIndex(*finished.ResultURL, "/")+1:]
	download, err := svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close()

	assert.Equal(t, models.ExportFormatCSV, download.Format)
	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Name,Email,Role,Status,Payment,Session,Logins,Last Login")
	assert.Contains(t, string(content), "ada@example.com")
}

func TestExportPDFGeneration(t *testing.T) {
	svc, store, queue := newExportFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateExportRequest{
		Type:     models.ExportTypeRoster,
		CohortID: exportCohortID,
		Format:   models.ExportFormatPDF,
	}, "admin-1")
	require.NoError(t, err)

	require.NoError(t, svc.ProcessJob(ctx, queue.enqueued[0]))
	finished := store.jobs[job.ID]
	assert.Equal(t, models.ExportStatusFinished, finished.Status)
	require.NotNil(t, finished.ResultPath)
	assert.True(t, strings.HasSuffix(*finished.ResultPath, ".pdf"))
}

func TestExportDownloadRejectsBadToken(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportRecoverPendingJobs(t *testing.T) {
	svc, store, queue := newExportFixture(t)

	store.jobs["stale"] = models.ExportJob{
		ID:     "stale",
		Type:   models.ExportTypeRoster,
		Status: models.ExportStatusQueued,
		Params: models.ExportJobParams{CohortID: exportCohortID, Format: models.ExportFormatCSV},
	}

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "stale", queue.enqueued[0].ID)
}
