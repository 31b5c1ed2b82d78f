package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
)

type fakeReflectionStore struct {
	questions map[string]models.ReflectionQuestion
	responses map[string]models.ReflectionResponse
	graded    []string
}

func (f *fakeReflectionStore) FindQuestionByID(ctx context.Context, id string) (*models.ReflectionQuestion, error) {
	if q, ok := f.questions[id]; ok {
		return &q, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeReflectionStore) FindResponseByID(ctx context.Context, id string) (*models.ReflectionResponse, error) {
	if r, ok := f.responses[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeReflectionStore) FindResponseByEnrollmentAndQuestion(ctx context.Context, enrollmentID, questionID string) (*models.ReflectionResponse, error) {
	for _, r := range f.responses {
		if r.EnrollmentID == enrollmentID && r.QuestionID == questionID {
			return &r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeReflectionStore) UpsertResponse(ctx context.Context, response *models.ReflectionResponse) error {
	if f.responses == nil {
		f.responses = make(map[string]models.ReflectionResponse)
	}
	for id, r := range f.responses {
		if r.EnrollmentID == response.EnrollmentID && r.QuestionID == response.QuestionID {
			response.ID = id
			response.MarkedBy = r.MarkedBy
			response.MarkedAt = r.MarkedAt
			response.Feedback = r.Feedback
			f.responses[id] = *response
			return nil
		}
	}
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	f.responses[response.ID] = *response
	return nil
}

func (f *fakeReflectionStore) Grade(ctx context.Context, id string, status models.ReflectionStatus, feedback *string, markedBy string, markedAt time.Time) error {
	r := f.responses[id]
	r.Status = status
	r.Feedback = feedback
	r.MarkedBy = &markedBy
	r.MarkedAt = &markedAt
	f.responses[id] = r
	f.graded = append(f.graded, id)
	return nil
}

func (f *fakeReflectionStore) ListResponses(ctx context.Context, filter models.ReflectionFilter) ([]models.ReflectionDetail, int, error) {
	var out []models.ReflectionDetail
	for _, r := range f.responses {
		out = append(out, models.ReflectionDetail{ReflectionResponse: r})
	}
	return out, len(out), nil
}

type fakeEnrollmentReader struct {
	enrollments map[string]models.Enrollment
	names       map[string]string
}

func (f *fakeEnrollmentReader) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := f.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentReader) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, e := range f.enrollments {
		if filter.CohortID != "" && e.CohortID != filter.CohortID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e, UserName: f.names[e.UserID]})
	}
	return out, len(out), nil
}

func (f *fakeEnrollmentReader) ExistsActive(ctx context.Context, userID, cohortID string) (bool, error) {
	for _, e := range f.enrollments {
		if e.UserID == userID && e.CohortID == cohortID && e.Status == models.EnrollmentStatusActive {
			return true, nil
		}
	}
	return false, nil
}

type fakeCohortReader struct {
	cohorts map[string]models.Cohort
}

func (f *fakeCohortReader) FindByID(ctx context.Context, id string) (*models.Cohort, error) {
	if c, ok := f.cohorts[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

type fakeUserReader struct {
	users map[string]models.User
}

func (f *fakeUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type fakeActivityLog struct {
	entries []models.ActivityEntry
}

func (f *fakeActivityLog) Append(ctx context.Context, entry *models.ActivityEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

type fakeFeedStore struct {
	posts   []models.FeedPost
	deleted []string
}

func (f *fakeFeedStore) Create(ctx context.Context, post *models.FeedPost) error {
	f.posts = append(f.posts, *post)
	return nil
}

func (f *fakeFeedStore) DeleteByReflection(ctx context.Context, reflectionID string) error {
	f.deleted = append(f.deleted, reflectionID)
	return nil
}

type fakeNotifier struct {
	notified []string
}

func (f *fakeNotifier) ReflectionGraded(ctx context.Context, responseID string) {
	f.notified = append(f.notified, responseID)
}

func TestNextLearnerStatusTable(t *testing.T) {
	tests := []struct {
		name      string
		current   models.ReflectionStatus
		exists    bool
		marked    bool
		submit    bool
		want      models.ReflectionStatus
		forbidden bool
	}{
		{name: "new draft", exists: false, submit: false, want: models.ReflectionStatusDraft},
		{name: "new submit", exists: false, submit: true, want: models.ReflectionStatusSubmitted},
		{name: "draft autosave", current: models.ReflectionStatusDraft, exists: true, want: models.ReflectionStatusDraft},
		{name: "draft submit", current: models.ReflectionStatusDraft, exists: true, submit: true, want: models.ReflectionStatusSubmitted},
		{name: "submitted autosave keeps submitted", current: models.ReflectionStatusSubmitted, exists: true, want: models.ReflectionStatusSubmitted},
		{name: "submitted resubmit", current: models.ReflectionStatusSubmitted, exists: true, submit: true, want: models.ReflectionStatusSubmitted},
		{name: "submitted marked autosave forbidden", current: models.ReflectionStatusSubmitted, exists: true, marked: true, forbidden: true},
		{name: "submitted marked submit forbidden", current: models.ReflectionStatusSubmitted, exists: true, marked: true, submit: true, forbidden: true},
		{name: "needs_revision autosave keeps state", current: models.ReflectionStatusNeedsRevision, exists: true, marked: true, want: models.ReflectionStatusNeedsRevision},
		{name: "needs_revision submit resubmits", current: models.ReflectionStatusNeedsRevision, exists: true, marked: true, submit: true, want: models.ReflectionStatusResubmitted},
		{name: "resubmitted autosave no regression", current: models.ReflectionStatusResubmitted, exists: true, marked: true, want: models.ReflectionStatusResubmitted},
		{name: "resubmitted submit stays resubmitted", current: models.ReflectionStatusResubmitted, exists: true, marked: true, submit: true, want: models.ReflectionStatusResubmitted},
		{name: "passed autosave forbidden", current: models.ReflectionStatusPassed, exists: true, marked: true, forbidden: true},
		{name: "passed submit forbidden", current: models.ReflectionStatusPassed, exists: true, marked: true, submit: true, forbidden: true},
		{name: "under_review autosave forbidden", current: models.ReflectionStatusUnderReview, exists: true, forbidden: true},
		{name: "under_review submit forbidden", current: models.ReflectionStatusUnderReview, exists: true, submit: true, forbidden: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextLearnerStatus(tt.current, tt.exists, tt.marked, tt.submit)
			if tt.forbidden {
				require.Error(t, err)
				appErr := appErrors.FromError(err)
				assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newReflectionFixture() (*ReflectionService, *fakeReflectionStore, *fakeActivityLog, *fakeFeedStore, *fakeNotifier) {
	store := &fakeReflectionStore{
		questions: map[string]models.ReflectionQuestion{
			"11111111-1111-4111-8111-111111111111": {
				ID:            "11111111-1111-4111-8111-111111111111",
				SessionID:     "sess-3",
				SessionNumber: 3,
				CourseID:      "course-1",
				QuestionText:  "What did you learn?",
			},
		},
		responses: map[string]models.ReflectionResponse{},
	}
	enrollments := &fakeEnrollmentReader{enrollments: map[string]models.Enrollment{
		"22222222-2222-4222-8222-222222222222": {
			ID:       "22222222-2222-4222-8222-222222222222",
			UserID:   "user-1",
			CohortID: "cohort-1",
			Status:   models.EnrollmentStatusActive,
		},
	}}
	cohorts := &fakeCohortReader{cohorts: map[string]models.Cohort{
		"cohort-1": {ID: "cohort-1", CourseID: "course-1", CurrentSession: 3},
	}}
	users := &fakeUserReader{users: map[string]models.User{
		"user-1":   {ID: "user-1", FullName: "Ada Learner", Role: models.RoleStudent},
		"grader-1": {ID: "grader-1", FullName: "Greta Grader", Role: models.RoleAdmin},
		"coord-1":  {ID: "coord-1", FullName: "Cora Coordinator", Role: models.RoleCoordinator},
	}}
	activity := &fakeActivityLog{}
	feed := &fakeFeedStore{}
	notifier := &fakeNotifier{}
	svc := NewReflectionService(store, enrollments, cohorts, users, activity, feed, notifier, validator.New(), zap.NewNop())
	return svc, store, activity, feed, notifier
}

const (
	fixtureQuestionID   = "11111111-1111-4111-8111-111111111111"
	fixtureEnrollmentID = "22222222-2222-4222-8222-222222222222"
)

func TestReflectionSaveCreatesSingleRow(t *testing.T) {
	svc, store, activity, _, _ := newReflectionFixture()

	first, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "first pass",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReflectionStatusDraft, first.Status)

	// The ID must survive request validation when it is later graded.
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err)

	second, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "revised",
		Submit:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.responses, 1)
	assert.Equal(t, models.ReflectionStatusSubmitted, store.responses[first.ID].Status)
	require.Len(t, activity.entries, 1)
	assert.Equal(t, models.ActivityReflectionSubmitted, activity.entries[0].Action)
	assert.Equal(t, "Ada Learner", activity.entries[0].ActorName)
}

func TestReflectionSaveRejectsForeignEnrollment(t *testing.T) {
	svc, _, _, _, _ := newReflectionFixture()

	_, err := svc.Save(context.Background(), "intruder", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "not mine",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReflectionPublicSaveFeedsCommunity(t *testing.T) {
	svc, _, _, feed, _ := newReflectionFixture()

	_, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "shareable insight",
		IsPublic:     true,
		Submit:       true,
	})
	require.NoError(t, err)
	require.Len(t, feed.posts, 1)
	assert.Equal(t, "Ada Learner", feed.posts[0].AuthorName)
	assert.Equal(t, "cohort-1", feed.posts[0].CohortID)
}

func TestReflectionFeedExcerptKeepsRunesWhole(t *testing.T) {
	svc, _, _, feed, _ := newReflectionFixture()

	// 279 ASCII bytes put the byte cap in the middle of the two-byte rune.
	text := strings.Repeat("a", 279) + "épilogue"
	_, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: text,
		IsPublic:     true,
		Submit:       true,
	})
	require.NoError(t, err)

	require.Len(t, feed.posts, 1)
	excerpt := feed.posts[0].Excerpt
	assert.True(t, utf8.ValidString(excerpt))
	assert.LessOrEqual(t, len(excerpt), 280)
	assert.Equal(t, strings.Repeat("a", 279), excerpt)
}

func TestReflectionGradeFlow(t *testing.T) {
	svc, store, activity, _, notifier := newReflectionFixture()

	saved, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "graded soon",
		Submit:       true,
	})
	require.NoError(t, err)

	graded, err := svc.Grade(context.Background(), "grader-1", GradeReflectionRequest{
		ResponseID: saved.ID,
		Grade:      "fail",
		Feedback:   "needs depth",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReflectionStatusNeedsRevision, graded.Status)
	require.NotNil(t, graded.MarkedBy)
	assert.Equal(t, "grader-1", *graded.MarkedBy)
	assert.Contains(t, notifier.notified, saved.ID)

	var gradedEntries int
	for _, entry := range activity.entries {
		if entry.Action == models.ActivityReflectionGraded {
			gradedEntries++
		}
	}
	assert.Equal(t, 1, gradedEntries)
	assert.Equal(t, models.ReflectionStatusNeedsRevision, store.responses[saved.ID].Status)
}

func TestReflectionGradeCoordinatorScopedToCohort(t *testing.T) {
	svc, _, _, _, _ := newReflectionFixture()

	saved, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "cohort scoped",
		Submit:       true,
	})
	require.NoError(t, err)

	// coord-1 has no enrollment in cohort-1.
	_, err = svc.Grade(context.Background(), "coord-1", GradeReflectionRequest{
		ResponseID: saved.ID,
		Grade:      "pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReflectionGradeCoordinatorInCohortAllowed(t *testing.T) {
	svc, _, _, _, _ := newReflectionFixture()
	enrollments := svc.enrollments.(*fakeEnrollmentReader)
	enrollments.enrollments["33333333-3333-4333-8333-333333333333"] = models.Enrollment{
		ID:       "33333333-3333-4333-8333-333333333333",
		UserID:   "coord-1",
		CohortID: "cohort-1",
		Status:   models.EnrollmentStatusActive,
	}

	saved, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "cohort scoped",
		Submit:       true,
	})
	require.NoError(t, err)

	graded, err := svc.Grade(context.Background(), "coord-1", GradeReflectionRequest{
		ResponseID: saved.ID,
		Grade:      "pass",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReflectionStatusPassed, graded.Status)
}

func TestReflectionGradeRejectsDraft(t *testing.T) {
	svc, _, _, _, _ := newReflectionFixture()

	saved, err := svc.Save(context.Background(), "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "still drafting",
	})
	require.NoError(t, err)

	_, err = svc.Grade(context.Background(), "grader-1", GradeReflectionRequest{
		ResponseID: saved.ID,
		Grade:      "pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRequest.Code, appErrors.FromError(err).Code)
}

// Mirrors the product scenario: late enrollee syncs to session 3, an
// auto-save after a failed review keeps needs_revision, resubmission and a
// passing grade lock the response.
func TestReflectionEndToEndScenario(t *testing.T) {
	svc, store, _, _, _ := newReflectionFixture()
	ctx := context.Background()

	cohort := models.Cohort{ID: "cohort-1", Status: models.CohortStatusScheduled, CurrentSession: 3}
	assert.Equal(t, models.CohortStatusActive, ResolveCohortStatus(cohort.Status, cohort.CurrentSession))

	enrollment := models.Enrollment{LoginCount: 0, CurrentSession: 1}
	session, synced := NextSession(enrollment, cohort)
	require.True(t, synced)
	assert.Equal(t, 3, session)

	saved, err := svc.Save(ctx, "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "session three thoughts",
		Submit:       true,
	})
	require.NoError(t, err)

	_, err = svc.Grade(ctx, "grader-1", GradeReflectionRequest{ResponseID: saved.ID, Grade: "fail", Feedback: "expand"})
	require.NoError(t, err)

	autosaved, err := svc.Save(ctx, "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "work in progress",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReflectionStatusNeedsRevision, autosaved.Status)

	resubmitted, err := svc.Save(ctx, "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "expanded answer",
		Submit:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReflectionStatusResubmitted, resubmitted.Status)

	passed, err := svc.Grade(ctx, "grader-1", GradeReflectionRequest{ResponseID: saved.ID, Grade: "pass"})
	require.NoError(t, err)
	assert.Equal(t, models.ReflectionStatusPassed, passed.Status)

	_, err = svc.Save(ctx, "user-1", SaveReflectionRequest{
		EnrollmentID: fixtureEnrollmentID,
		QuestionID:   fixtureQuestionID,
		ResponseText: "late edit",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.ReflectionStatusPassed, store.responses[saved.ID].Status)
}
