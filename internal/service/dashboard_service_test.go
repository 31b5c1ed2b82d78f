package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type fakeDashEnrollments struct {
	byUser map[string][]models.Enrollment
}

func (f *fakeDashEnrollments) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	return f.byUser[userID], nil
}

type fakeDashCohorts struct {
	cohorts map[string]models.CohortDetail
	fail    bool
}

func (f *fakeDashCohorts) FindDetailByID(ctx context.Context, id string) (*models.CohortDetail, error) {
	if f.fail {
		return nil, errors.New("cohort store down")
	}
	if c, ok := f.cohorts[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type fakeDashSessions struct {
	sessions []models.Session
}

func (f *fakeDashSessions) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	return f.sessions, nil
}

type fakeDashReflections struct {
	passed map[string]int
	total  map[string]int
}

func (f *fakeDashReflections) CountPassedBySession(ctx context.Context, enrollmentID, sessionID string) (int, int, error) {
	return f.passed[sessionID], f.total[sessionID], nil
}

type fakeDashActivity struct {
	entries []models.ActivityEntry
}

func (f *fakeDashActivity) ListRecent(ctx context.Context, cohortID string, since time.Time, limit int) ([]models.ActivityEntry, error) {
	return f.entries, nil
}

type memoryCache struct {
	values map[string]interface{}
	sets   int
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	v, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if d, ok := dest.(*Dashboard); ok {
		*d = *v.(*Dashboard)
	}
	return nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.values == nil {
		m.values = make(map[string]interface{})
	}
	m.sets++
	if d, ok := value.(*Dashboard); ok {
		copied := *d
		m.values[key] = &copied
		return nil
	}
	m.values[key] = value
	return nil
}

func newDashboardFixture() (*DashboardService, *fakeDashCohorts, *memoryCache) {
	enrollments := &fakeDashEnrollments{byUser: map[string][]models.Enrollment{
		"user-1": {{
			ID:             "enr-1",
			UserID:         "user-1",
			CohortID:       "cohort-1",
			Status:         models.EnrollmentStatusActive,
			CurrentSession: 2,
		}},
	}}
	cohorts := &fakeDashCohorts{cohorts: map[string]models.CohortDetail{
		"cohort-1": {
			Cohort: models.Cohort{
				ID:             "cohort-1",
				CourseID:       "course-1",
				Name:           "Spring Cohort",
				Status:         models.CohortStatusScheduled,
				CurrentSession: 3,
			},
			CourseName: "Foundations",
		},
	}}
	sessions := &fakeDashSessions{sessions: []models.Session{
		{ID: "sess-1", SessionNumber: 1, Title: "Welcome"},
		{ID: "sess-2", SessionNumber: 2, Title: "Practices"},
		{ID: "sess-3", SessionNumber: 3, Title: "Community"},
	}}
	reflections := &fakeDashReflections{
		passed: map[string]int{"sess-1": 2, "sess-2": 1},
		total:  map[string]int{"sess-1": 2, "sess-2": 3, "sess-3": 3},
	}
	activity := &fakeDashActivity{entries: []models.ActivityEntry{
		{ID: "act-1", CohortID: "cohort-1", ActorName: "Ada Learner", Action: models.ActivityReflectionSubmitted},
	}}
	cache := &memoryCache{}
	svc := NewDashboardService(enrollments, cohorts, sessions, reflections, activity, cache, zap.NewNop(), DashboardServiceConfig{})
	return svc, cohorts, cache
}

func TestDashboardCohortActivityListsEntries(t *testing.T) {
	svc, _, _ := newDashboardFixture()

	entries, err := svc.CohortActivity(context.Background(), "cohort-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ada Learner", entries[0].ActorName)
}

func TestDashboardCohortActivityUnknownCohort(t *testing.T) {
	svc, _, _ := newDashboardFixture()

	_, err := svc.CohortActivity(context.Background(), "cohort-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDashboardComposesEnrollmentSections(t *testing.T) {
	svc, _, _ := newDashboardFixture()

	dashboard, err := svc.ForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, dashboard.Enrollments, 1)

	entry := dashboard.Enrollments[0]
	assert.Equal(t, "Spring Cohort", entry.CohortName)
	assert.Equal(t, "Foundations", entry.CourseName)
	// A scheduled cohort past session zero reads as active.
	assert.Equal(t, models.CohortStatusActive, entry.CohortStatus)

	// The learner's clock is 2, so session 3 is hidden.
	require.Len(t, entry.Progress, 2)
	assert.Equal(t, 2, entry.Progress[0].Passed)
	assert.Equal(t, 3, entry.Progress[1].Total)

	require.Len(t, dashboard.RecentActivity, 1)
	assert.False(t, dashboard.Meta.Cached)
	assert.Empty(t, dashboard.Meta.Degraded)
}

func TestDashboardSecondReadServedFromCache(t *testing.T) {
	svc, _, cache := newDashboardFixture()
	ctx := context.Background()

	_, err := svc.ForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	again, err := svc.ForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, again.Meta.Cached)
	assert.Equal(t, 1, cache.sets)
}

func TestDashboardDegradesOnCohortFailure(t *testing.T) {
	svc, cohorts, cache := newDashboardFixture()
	cohorts.fail = true

	dashboard, err := svc.ForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, dashboard.Enrollments, 1)
	assert.Empty(t, dashboard.Enrollments[0].CohortName)
	assert.Contains(t, dashboard.Meta.Degraded, "cohorts")

	// Partial payloads never land in the cache.
	assert.Equal(t, 0, cache.sets)
}

func TestDashboardEmptyForUnknownUser(t *testing.T) {
	svc, _, _ := newDashboardFixture()

	dashboard, err := svc.ForUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, dashboard.Enrollments)
}
