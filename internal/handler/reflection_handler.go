package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// ReflectionHandler exposes reflection submission and grading endpoints.
type ReflectionHandler struct {
	reflections *service.ReflectionService
	metrics     *service.MetricsService
}

// NewReflectionHandler constructs ReflectionHandler. metrics may be nil.
func NewReflectionHandler(reflections *service.ReflectionService, metrics *service.MetricsService) *ReflectionHandler {
	return &ReflectionHandler{reflections: reflections, metrics: metrics}
}

// Save godoc
// @Summary Save or submit a reflection response
// @Tags Reflections
// @Accept json
// @Produce json
// @Param payload body service.SaveReflectionRequest true "Reflection payload"
// @Success 200 {object} response.Envelope
// @Router /reflections [put]
func (h *ReflectionHandler) Save(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SaveReflectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	saved, err := h.reflections.Save(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if req.Submit && h.metrics != nil {
		h.metrics.CountSubmission()
	}
	response.JSON(c, http.StatusOK, saved, nil)
}

// Grade godoc
// @Summary Grade a submitted reflection
// @Tags Reflections
// @Accept json
// @Produce json
// @Param payload body service.GradeReflectionRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /reflections/grade [post]
func (h *ReflectionHandler) Grade(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.GradeReflectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	graded, err := h.reflections.Grade(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.CountGrading()
	}
	response.JSON(c, http.StatusOK, graded, nil)
}

// ListMine godoc
// @Summary List the current learner's reflections
// @Tags Reflections
// @Produce json
// @Param enrollmentId query string false "Filter by enrollment"
// @Param sessionId query string false "Filter by session"
// @Param status query string false "Comma-separated statuses"
// @Success 200 {object} response.Envelope
// @Router /reflections/mine [get]
func (h *ReflectionHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter := h.parseFilter(c)
	reflections, pagination, err := h.reflections.ListForLearner(c.Request.Context(), claims.UserID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reflections, pagination)
}

// ListForGrading godoc
// @Summary List reflections pending review
// @Tags Reflections
// @Produce json
// @Param cohortId query string false "Filter by cohort"
// @Param sessionId query string false "Filter by session"
// @Param status query string false "Comma-separated statuses"
// @Success 200 {object} response.Envelope
// @Router /reflections/grading [get]
func (h *ReflectionHandler) ListForGrading(c *gin.Context) {
	filter := h.parseFilter(c)
	reflections, pagination, err := h.reflections.ListForGrading(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reflections, pagination)
}

func (h *ReflectionHandler) parseFilter(c *gin.Context) models.ReflectionFilter {
	var filter models.ReflectionFilter
	filter.EnrollmentID = c.Query("enrollmentId")
	filter.CohortID = c.Query("cohortId")
	filter.SessionID = c.Query("sessionId")
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, models.ReflectionStatus(s))
			}
		}
	}
	filter.Page, filter.PageSize = pageParams(c)
	return filter
}
