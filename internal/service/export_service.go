package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/repository"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/export"
	"github.com/noah-isme/formatio-api/pkg/jobs"
	"github.com/noah-isme/formatio-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
}

type exportEnrollmentSource interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type exportReflectionSource interface {
	ListResponses(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, int, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// CreateExportRequest asks for an asynchronous cohort export.
type CreateExportRequest struct {
	Type     models.ExportType   `json:"type" validate:"required,oneof=roster reflection_progress"`
	CohortID string              `json:"cohort_id" validate:"required,uuid4"`
	Format   models.ExportFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportServiceConfig governs URL signing and cleanup.
type ExportServiceConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ExportService owns the asynchronous export pipeline: it persists job
// rows, enqueues background generation, renders CSV/PDF files and serves
// them back through signed download tokens.
type ExportService struct {
	repo        exportJobStore
	enrollments exportEnrollmentSource
	reflections exportReflectionSource
	storage     exportFileStorage
	signer      *storage.SignedURLSigner
	csv         csvRenderer
	pdf         pdfRenderer
	queue       jobDispatcher
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ExportServiceConfig
}

// NewExportService constructs an ExportService.
func NewExportService(
	repo exportJobStore,
	enrollments exportEnrollmentSource,
	reflections exportReflectionSource,
	files exportFileStorage,
	signer *storage.SignedURLSigner,
	queue jobDispatcher,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ExportServiceConfig,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		repo:        repo,
		enrollments: enrollments,
		reflections: reflections,
		storage:     files,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		queue:       queue,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// SetQueue wires the dispatcher after construction; the queue's handler
// needs the service and the service needs the queue.
func (s *ExportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// CreateJob validates the request, persists the job row and enqueues
// generation. An enqueue failure marks the row failed immediately.
func (s *ExportService) CreateJob(ctx context.Context, req CreateExportRequest, actorID string) (*models.ExportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "invalid export request")
	}
	job := &models.ExportJob{
		Type:      req.Type,
		Params:    models.ExportJobParams{CohortID: req.CohortID, Format: req.Format},
		Status:    models.ExportStatusQueued,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return job, nil
}

// GetStatus exposes job metadata to clients.
func (s *ExportService) GetStatus(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// ProcessJob is the queue handler: it renders and stores the file, then
// finalizes the job row. Returned errors trigger the queue's retry policy.
func (s *ExportService) ProcessJob(ctx context.Context, queued jobs.Job) error {
	job, err := s.repo.GetByID(ctx, queued.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("queued export job vanished", zap.String("job_id", queued.ID))
			return nil
		}
		return fmt.Errorf("load export job %s: %w", queued.ID, err)
	}
	if job.Status == models.ExportStatusFinished {
		return nil
	}

	processing := models.ExportStatusProcessing
	if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}

	relPath, signedURL, err := s.generate(ctx, job)
	if err != nil {
		status := models.ExportStatusFailed
		msg := err.Error()
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return fmt.Errorf("generate export %s: %w", job.ID, err)
	}

	finished := models.ExportStatusFinished
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		ResultPath: &relPath,
		ResultURL:  &signedURL,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("finalize export job %s: %w", job.ID, err)
	}
	s.logger.Info("export job finished",
		zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("path", relPath))
	return nil
}

func (s *ExportService) generate(ctx context.Context, job *models.ExportJob) (relPath, signedURL string, err error) {
	var dataset export.Dataset
	var title string
	switch job.Type {
	case models.ExportTypeRoster:
		dataset, title, err = s.buildRoster(ctx, job.Params.CohortID)
	case models.ExportTypeReflectionProgress:
		dataset, title, err = s.buildReflectionProgress(ctx, job.Params.CohortID)
	default:
		err = fmt.Errorf("unsupported export type %s", job.Type)
	}
	if err != nil {
		return "", "", err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported export format %s", job.Params.Format)
	}
	if err != nil {
		return "", "", err
	}

	filename := fmt.Sprintf("%s-%s-%s.%s",
		job.Type, job.Params.CohortID, time.Now().UTC().Format("20060102-150405"), job.Params.Format)
	relPath, err = s.storage.Save(filename, payload)
	if err != nil {
		return "", "", err
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return "", "", err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return relPath, fmt.Sprintf("%s/exports/download/%s", prefix, token), nil
}

func (s *ExportService) buildRoster(ctx context.Context, cohortID string) (export.Dataset, string, error) {
	rows, _, err := s.enrollments.List(ctx, models.EnrollmentFilter{CohortID: cohortID, PageSize: 1000})
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("list enrollments: %w", err)
	}
	dataset := export.Dataset{
		Headers: []string{"Name", "Email", "Role", "Status", "Payment", "Session", "Logins", "Last Login"},
	}
	title := "Cohort Roster"
	for _, row := range rows {
		if title == "Cohort Roster" && row.CohortName != "" {
			title = fmt.Sprintf("Roster: %s", row.CohortName)
		}
		lastLogin := ""
		if row.LastLoginAt != nil {
			lastLogin = row.LastLoginAt.UTC().Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Name":       row.UserName,
			"Email":      row.UserEmail,
			"Role":       string(row.Role),
			"Status":     string(row.Status),
			"Payment":    string(row.PaymentState),
			"Session":    strconv.Itoa(row.CurrentSession),
			"Logins":     strconv.Itoa(row.LoginCount),
			"Last Login": lastLogin,
		})
	}
	return dataset, title, nil
}

func (s *ExportService) buildReflectionProgress(ctx context.Context, cohortID string) (export.Dataset, string, error) {
	rows, _, err := s.reflections.ListResponses(ctx, models.ReflectionFilter{CohortID: cohortID, PageSize: 5000})
	if err != nil {
		return export.Dataset{}, "", fmt.Errorf("list responses: %w", err)
	}
	dataset := export.Dataset{
		Headers: []string{"Learner", "Email", "Question", "Status", "Marked At"},
	}
	title := "Reflection Progress"
	for _, row := range rows {
		if title == "Reflection Progress" && row.CohortName != "" {
			title = fmt.Sprintf("Reflection Progress: %s", row.CohortName)
		}
		markedAt := ""
		if row.MarkedAt != nil {
			markedAt = row.MarkedAt.UTC().Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Learner":   row.UserName,
			"Email":     row.UserEmail,
			"Question":  row.QuestionText,
			"Status":    string(row.Status),
			"Marked At": markedAt,
		})
	}
	return dataset, title, nil
}

// ResolveDownload validates a token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs after a process restart.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued export jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending export job",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// StartCleanup boots a goroutine that purges expired export files.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(removed) > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
				}
			}
		}
	}()
}
