package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type fakeAttendanceStore struct {
	records map[string]models.AttendanceRecord
}

func attendanceKey(enrollmentID string, sessionNumber int) string {
	return fmt.Sprintf("%s/%d", enrollmentID, sessionNumber)
}

func (f *fakeAttendanceStore) Upsert(ctx context.Context, record *models.AttendanceRecord) error {
	if f.records == nil {
		f.records = make(map[string]models.AttendanceRecord)
	}
	key := attendanceKey(record.EnrollmentID, record.SessionNumber)
	if existing, ok := f.records[key]; ok {
		record.ID = existing.ID
	}
	if record.ID == "" {
		record.ID = key
	}
	f.records[key] = *record
	return nil
}

func (f *fakeAttendanceStore) ListByCohort(ctx context.Context, cohortID string) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, r := range f.records {
		if r.CohortID == cohortID {
			out = append(out, r)
		}
	}
	return out, nil
}

const (
	attendanceEnrollmentID = "44444444-4444-4444-8444-444444444444"
	attendanceCohortID     = "cohort-att"
)

func newAttendanceFixture() (*AttendanceService, *fakeAttendanceStore, *fakeActivityLog) {
	store := &fakeAttendanceStore{records: map[string]models.AttendanceRecord{}}
	enrollments := &fakeEnrollmentReader{
		enrollments: map[string]models.Enrollment{
			attendanceEnrollmentID: {
				ID:       attendanceEnrollmentID,
				UserID:   "user-1",
				CohortID: attendanceCohortID,
				Status:   models.EnrollmentStatusActive,
			},
		},
		names: map[string]string{"user-1": "Ada Learner"},
	}
	cohorts := &fakeCohortReader{cohorts: map[string]models.Cohort{
		attendanceCohortID: {ID: attendanceCohortID, CourseID: "course-1", CurrentSession: 2},
	}}
	users := &fakeUserReader{users: map[string]models.User{
		"user-1":  {ID: "user-1", Role: models.RoleStudent, FullName: "Ada Learner"},
		"admin-1": {ID: "admin-1", Role: models.RoleAdmin, FullName: "Alan Admin"},
		"coord-1": {ID: "coord-1", Role: models.RoleCoordinator, FullName: "Cora Coordinator"},
	}}
	activity := &fakeActivityLog{}
	svc := NewAttendanceService(store, enrollments, cohorts, users, activity, nil, nil)
	return svc, store, activity
}

func TestAttendanceMarkOverwritesSameSession(t *testing.T) {
	svc, store, activity := newAttendanceFixture()

	present := true
	first, err := svc.Mark(context.Background(), "admin-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 2,
		Present:       &present,
	})
	require.NoError(t, err)
	assert.True(t, first.Present)
	require.NotNil(t, first.MarkedBy)
	assert.Equal(t, "admin-1", *first.MarkedBy)

	absent := false
	second, err := svc.Mark(context.Background(), "admin-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 2,
		Present:       &absent,
	})
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	assert.Equal(t, first.ID, second.ID)
	stored := store.records[attendanceKey(attendanceEnrollmentID, 2)]
	assert.False(t, stored.Present)

	require.Len(t, activity.entries, 2)
	assert.Equal(t, models.ActivityAttendanceMarked, activity.entries[0].Action)
	assert.Equal(t, "Alan Admin", activity.entries[0].ActorName)
}

func TestAttendanceMarkRequiresPresentField(t *testing.T) {
	svc, _, _ := newAttendanceFixture()

	_, err := svc.Mark(context.Background(), "admin-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRequest.Code, appErrors.FromError(err).Code)
}

func TestAttendanceMarkUnknownEnrollment(t *testing.T) {
	svc, _, _ := newAttendanceFixture()

	present := true
	_, err := svc.Mark(context.Background(), "admin-1", MarkAttendanceRequest{
		EnrollmentID:  "55555555-5555-4555-8555-555555555555",
		SessionNumber: 1,
		Present:       &present,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceMarkCoordinatorScopedToCohort(t *testing.T) {
	svc, store, _ := newAttendanceFixture()

	present := true
	_, err := svc.Mark(context.Background(), "coord-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 1,
		Present:       &present,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, store.records)
}

func TestAttendanceMarkCoordinatorInCohortAllowed(t *testing.T) {
	svc, store, _ := newAttendanceFixture()
	svc.enrollments.(*fakeEnrollmentReader).enrollments["66666666-6666-4666-8666-666666666666"] = models.Enrollment{
		ID:       "66666666-6666-4666-8666-666666666666",
		UserID:   "coord-1",
		CohortID: attendanceCohortID,
		Role:     models.RoleCoordinator,
		Status:   models.EnrollmentStatusActive,
	}

	present := true
	record, err := svc.Mark(context.Background(), "coord-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 1,
		Present:       &present,
	})
	require.NoError(t, err)
	assert.True(t, record.Present)
	require.Len(t, store.records, 1)
}

func TestAttendanceGridGroupsMarksByEnrollment(t *testing.T) {
	svc, _, _ := newAttendanceFixture()
	reader := svc.enrollments.(*fakeEnrollmentReader)
	reader.enrollments["77777777-7777-4777-8777-777777777777"] = models.Enrollment{
		ID:       "77777777-7777-4777-8777-777777777777",
		UserID:   "user-2",
		CohortID: attendanceCohortID,
		Status:   models.EnrollmentStatusActive,
	}
	reader.names["user-2"] = "Bela Learner"

	present := true
	_, err := svc.Mark(context.Background(), "admin-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 1,
		Present:       &present,
	})
	require.NoError(t, err)
	absent := false
	_, err = svc.Mark(context.Background(), "admin-1", MarkAttendanceRequest{
		EnrollmentID:  attendanceEnrollmentID,
		SessionNumber: 2,
		Present:       &absent,
	})
	require.NoError(t, err)

	grid, err := svc.Grid(context.Background(), attendanceCohortID)
	require.NoError(t, err)
	require.Len(t, grid.Rows, 2)

	rows := make(map[string]AttendanceRow, len(grid.Rows))
	for _, row := range grid.Rows {
		rows[row.EnrollmentID] = row
	}
	marked := rows[attendanceEnrollmentID]
	assert.Equal(t, "Ada Learner", marked.UserName)
	require.Len(t, marked.Marks, 2)
	unmarked := rows["77777777-7777-4777-8777-777777777777"]
	assert.Equal(t, "Bela Learner", unmarked.UserName)
	assert.Empty(t, unmarked.Marks)
	assert.NotNil(t, unmarked.Marks)
}

func TestAttendanceGridUnknownCohort(t *testing.T) {
	svc, _, _ := newAttendanceFixture()

	_, err := svc.Grid(context.Background(), "cohort-404")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
