package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
)

type fakeProgressEnrollments struct {
	enrollments []models.Enrollment
	recorded    map[string]int
}

func (f *fakeProgressEnrollments) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	return f.enrollments, nil
}

func (f *fakeProgressEnrollments) RecordLogin(ctx context.Context, id string, currentSession int, ts time.Time) error {
	if f.recorded == nil {
		f.recorded = make(map[string]int)
	}
	f.recorded[id] = currentSession
	for i := range f.enrollments {
		if f.enrollments[i].ID == id {
			f.enrollments[i].CurrentSession = currentSession
			f.enrollments[i].LoginCount++
		}
	}
	return nil
}

func TestNextSessionFirstLoginSyncsUpward(t *testing.T) {
	enrollment := models.Enrollment{LoginCount: 0, CurrentSession: 1}
	cohort := models.Cohort{CurrentSession: 4}

	session, synced := NextSession(enrollment, cohort)
	assert.True(t, synced)
	assert.Equal(t, 4, session)
}

func TestNextSessionNeverRegresses(t *testing.T) {
	// An admin may have deliberately raised the learner past the cohort.
	enrollment := models.Enrollment{LoginCount: 0, CurrentSession: 5}
	cohort := models.Cohort{CurrentSession: 3}

	session, synced := NextSession(enrollment, cohort)
	assert.False(t, synced)
	assert.Equal(t, 5, session)
}

func TestNextSessionReturningLoginUnchanged(t *testing.T) {
	enrollment := models.Enrollment{LoginCount: 7, CurrentSession: 2}
	cohort := models.Cohort{CurrentSession: 6}

	session, synced := NextSession(enrollment, cohort)
	assert.False(t, synced)
	assert.Equal(t, 2, session)
}

func TestSyncOnLoginIsIdempotentOnSessionNumber(t *testing.T) {
	repo := &fakeProgressEnrollments{enrollments: []models.Enrollment{
		{ID: "enr-1", UserID: "user-1", CohortID: "cohort-1", LoginCount: 0, CurrentSession: 1},
	}}
	cohorts := &fakeCohortReader{cohorts: map[string]models.Cohort{
		"cohort-1": {ID: "cohort-1", CurrentSession: 3},
	}}
	activity := &fakeActivityLog{}
	svc := NewProgressionService(repo, cohorts, activity, zap.NewNop())

	first, err := svc.SyncOnLogin(context.Background(), "user-1", "Ada Learner")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Synced)
	assert.Equal(t, 3, first[0].CurrentSession)

	second, err := svc.SyncOnLogin(context.Background(), "user-1", "Ada Learner")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.False(t, second[0].Synced)
	assert.Equal(t, 3, second[0].CurrentSession)
	assert.Equal(t, 2, repo.enrollments[0].LoginCount)
}

func TestSyncOnLoginSkipsMissingCohort(t *testing.T) {
	repo := &fakeProgressEnrollments{enrollments: []models.Enrollment{
		{ID: "enr-1", UserID: "user-1", CohortID: "gone", LoginCount: 0, CurrentSession: 1},
		{ID: "enr-2", UserID: "user-1", CohortID: "cohort-1", LoginCount: 0, CurrentSession: 0},
	}}
	cohorts := &fakeCohortReader{cohorts: map[string]models.Cohort{
		"cohort-1": {ID: "cohort-1", CurrentSession: 2},
	}}
	svc := NewProgressionService(repo, cohorts, &fakeActivityLog{}, zap.NewNop())

	results, err := svc.SyncOnLogin(context.Background(), "user-1", "Ada Learner")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "enr-2", results[0].EnrollmentID)
	assert.Equal(t, 2, results[0].CurrentSession)
}
