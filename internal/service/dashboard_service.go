package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type dashboardEnrollmentReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error)
}

type dashboardCohortReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.CohortDetail, error)
}

type dashboardSessionReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Session, error)
}

type dashboardReflectionCounter interface {
	CountPassedBySession(ctx context.Context, enrollmentID, sessionID string) (passed, total int, err error)
}

type dashboardActivityReader interface {
	ListRecent(ctx context.Context, cohortID string, since time.Time, limit int) ([]models.ActivityEntry, error)
}

type dashboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SessionProgress is a learner's reflection completion for one session.
type SessionProgress struct {
	SessionID     string `json:"session_id"`
	SessionNumber int    `json:"session_number"`
	Title         string `json:"title"`
	Passed        int    `json:"passed"`
	Total         int    `json:"total"`
}

// DashboardEnrollment is one cohort membership on the learner dashboard,
// with the cohort status resolved at read time.
type DashboardEnrollment struct {
	Enrollment   models.Enrollment   `json:"enrollment"`
	CohortName   string              `json:"cohort_name"`
	CourseName   string              `json:"course_name"`
	CohortStatus models.CohortStatus `json:"cohort_status"`
	CohortSession int                `json:"cohort_session"`
	Progress     []SessionProgress   `json:"progress"`
}

// DashboardMeta flags partial results. Sections that failed to load are
// named in Degraded rather than failing the whole dashboard.
type DashboardMeta struct {
	Cached   bool     `json:"cached"`
	Degraded []string `json:"degraded,omitempty"`
}

// Dashboard is the learner home payload.
type Dashboard struct {
	Enrollments    []DashboardEnrollment  `json:"enrollments"`
	RecentActivity []models.ActivityEntry `json:"recent_activity"`
	Meta           DashboardMeta          `json:"meta"`
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL       time.Duration
	ActivityWindow time.Duration
	ActivityLimit  int
}

// DashboardService composes the learner dashboard from enrollments,
// cohort state, reflection progress and recent cohort activity.
type DashboardService struct {
	enrollments dashboardEnrollmentReader
	cohorts     dashboardCohortReader
	sessions    dashboardSessionReader
	reflections dashboardReflectionCounter
	activity    dashboardActivityReader
	cache       dashboardCache
	logger      *zap.Logger
	cfg         DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(
	enrollments dashboardEnrollmentReader,
	cohorts dashboardCohortReader,
	sessions dashboardSessionReader,
	reflections dashboardReflectionCounter,
	activity dashboardActivityReader,
	cache dashboardCache,
	logger *zap.Logger,
	cfg DashboardServiceConfig,
) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = 7 * 24 * time.Hour
	}
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = 20
	}
	return &DashboardService{
		enrollments: enrollments,
		cohorts:     cohorts,
		sessions:    sessions,
		reflections: reflections,
		activity:    activity,
		cache:       cache,
		logger:      logger,
		cfg:         cfg,
	}
}

// ForUser returns a learner's dashboard, served from cache when fresh.
func (s *DashboardService) ForUser(ctx context.Context, userID string) (*Dashboard, error) {
	cacheKey := fmt.Sprintf("dashboard:user:%s", userID)
	if s.cache != nil {
		var cached Dashboard
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			cached.Meta.Cached = true
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("dashboard cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	dashboard, err := s.compose(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(dashboard.Meta.Degraded) == 0 {
		if err := s.cache.Set(ctx, cacheKey, dashboard, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return dashboard, nil
}

// CohortActivity lists a cohort's recent activity-log entries within the
// configured window, newest first, capped at the configured limit.
func (s *DashboardService) CohortActivity(ctx context.Context, cohortID string) ([]models.ActivityEntry, error) {
	if cohortID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "cohort id is required")
	}
	if _, err := s.cohorts.FindDetailByID(ctx, cohortID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}

	since := time.Now().UTC().Add(-s.cfg.ActivityWindow)
	entries, err := s.activity.ListRecent(ctx, cohortID, since, s.cfg.ActivityLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	return entries, nil
}

func (s *DashboardService) compose(ctx context.Context, userID string) (*Dashboard, error) {
	enrollments, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	dashboard := &Dashboard{Enrollments: make([]DashboardEnrollment, 0, len(enrollments))}
	degraded := map[string]bool{}

	for _, enrollment := range enrollments {
		entry := DashboardEnrollment{Enrollment: enrollment}

		cohort, err := s.cohorts.FindDetailByID(ctx, enrollment.CohortID)
		if err != nil {
			s.logger.Warn("dashboard cohort lookup failed",
				zap.String("cohort_id", enrollment.CohortID), zap.Error(err))
			degraded["cohorts"] = true
			dashboard.Enrollments = append(dashboard.Enrollments, entry)
			continue
		}
		entry.CohortName = cohort.Name
		entry.CourseName = cohort.CourseName
		entry.CohortSession = cohort.CurrentSession
		entry.CohortStatus = ResolveCohortStatus(cohort.Status, cohort.CurrentSession)

		progress, err := s.sessionProgress(ctx, enrollment, cohort)
		if err != nil {
			s.logger.Warn("dashboard progress failed",
				zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			degraded["progress"] = true
		} else {
			entry.Progress = progress
		}

		dashboard.Enrollments = append(dashboard.Enrollments, entry)

		if s.activity != nil {
			since := time.Now().UTC().Add(-s.cfg.ActivityWindow)
			entries, err := s.activity.ListRecent(ctx, enrollment.CohortID, since, s.cfg.ActivityLimit)
			if err != nil {
				s.logger.Warn("dashboard activity failed",
					zap.String("cohort_id", enrollment.CohortID), zap.Error(err))
				degraded["activity"] = true
			} else {
				dashboard.RecentActivity = append(dashboard.RecentActivity, entries...)
			}
		}
	}

	for section := range degraded {
		dashboard.Meta.Degraded = append(dashboard.Meta.Degraded, section)
	}
	return dashboard, nil
}

// sessionProgress reports passed/total reflections for the sessions the
// learner has reached. Sessions beyond the learner's clock are omitted.
func (s *DashboardService) sessionProgress(ctx context.Context, enrollment models.Enrollment, cohort *models.CohortDetail) ([]SessionProgress, error) {
	sessions, err := s.sessions.ListByCourse(ctx, cohort.CourseID)
	if err != nil {
		return nil, err
	}
	progress := make([]SessionProgress, 0, len(sessions))
	for _, session := range sessions {
		if session.SessionNumber > enrollment.CurrentSession {
			continue
		}
		passed, total, err := s.reflections.CountPassedBySession(ctx, enrollment.ID, session.ID)
		if err != nil {
			return nil, err
		}
		progress = append(progress, SessionProgress{
			SessionID:     session.ID,
			SessionNumber: session.SessionNumber,
			Title:         session.Title,
			Passed:        passed,
			Total:         total,
		})
	}
	return progress, nil
}
