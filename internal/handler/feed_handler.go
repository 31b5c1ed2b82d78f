package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// FeedHandler exposes the cohort community feed.
type FeedHandler struct {
	feed *service.FeedService
}

// NewFeedHandler constructs FeedHandler.
func NewFeedHandler(feed *service.FeedService) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// List godoc
// @Summary List a cohort's community feed
// @Tags Feed
// @Produce json
// @Param id path string true "Cohort ID"
// @Param limit query int false "Max posts"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id}/feed [get]
func (h *FeedHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	posts, err := h.feed.List(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, posts, nil)
}

// SetPinned godoc
// @Summary Pin or unpin a feed post
// @Tags Feed
// @Accept json
// @Produce json
// @Param id path string true "Post ID"
// @Param payload body object true "Pinned flag"
// @Success 200 {object} response.Envelope
// @Router /feed/{id}/pin [put]
func (h *FeedHandler) SetPinned(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload struct {
		Pinned *bool `json:"pinned" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "pinned flag required"))
		return
	}
	post, err := h.feed.SetPinned(c.Request.Context(), c.Param("id"), *payload.Pinned, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, post, nil)
}
