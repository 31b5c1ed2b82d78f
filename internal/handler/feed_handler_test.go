package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formatio-api/internal/middleware"
	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/service"
)

type feedRepoMock struct {
	posts map[string]models.FeedPost
}

func (m *feedRepoMock) ListByCohort(ctx context.Context, cohortID string, limit int) ([]models.FeedPost, error) {
	var out []models.FeedPost
	for _, p := range m.posts {
		if p.CohortID == cohortID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *feedRepoMock) FindByID(ctx context.Context, id string) (*models.FeedPost, error) {
	if p, ok := m.posts[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *feedRepoMock) SetPinned(ctx context.Context, id string, pinned bool) error {
	p, ok := m.posts[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Pinned = pinned
	m.posts[id] = p
	return nil
}

func newFeedFixture() (*FeedHandler, *feedRepoMock) {
	repo := &feedRepoMock{posts: map[string]models.FeedPost{
		"post-1": {ID: "post-1", CohortID: "cohort-1", AuthorName: "Ada Learner"},
	}}
	return NewFeedHandler(service.NewFeedService(repo, nil)), repo
}

func pinRequest(claims *models.JWTClaims, body string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/feed/post-1/pin", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "post-1"}}
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestFeedPinRequiresAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newFeedFixture()

	c, w := pinRequest(&models.JWTClaims{UserID: "s-1", Role: models.RoleStudent}, `{"pinned":true}`)
	handler.SetPinned(c)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.False(t, repo.posts["post-1"].Pinned)
}

func TestFeedPinAndUnpin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, repo := newFeedFixture()

	c, w := pinRequest(&models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin}, `{"pinned":true}`)
	handler.SetPinned(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, repo.posts["post-1"].Pinned)

	c, w = pinRequest(&models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin}, `{"pinned":false}`)
	handler.SetPinned(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, repo.posts["post-1"].Pinned)
}

func TestFeedPinRejectsMissingFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newFeedFixture()

	c, w := pinRequest(&models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin}, `{}`)
	handler.SetPinned(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedPinRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := newFeedFixture()

	c, w := pinRequest(nil, `{"pinned":true}`)
	handler.SetPinned(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
