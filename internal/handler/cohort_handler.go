package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// CohortHandler exposes cohort endpoints.
type CohortHandler struct {
	cohorts *service.CohortService
}

// NewCohortHandler constructs CohortHandler.
func NewCohortHandler(cohorts *service.CohortService) *CohortHandler {
	return &CohortHandler{cohorts: cohorts}
}

// List godoc
// @Summary List cohorts
// @Tags Cohorts
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /cohorts [get]
func (h *CohortHandler) List(c *gin.Context) {
	var filter models.CohortFilter
	filter.CourseID = c.Query("courseId")
	filter.Status = models.CohortStatus(c.Query("status"))
	filter.IncludeArchived = c.Query("includeArchived") == "true"
	filter.Page, filter.PageSize = pageParams(c)

	cohorts, pagination, err := h.cohorts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cohorts, pagination)
}

// Get godoc
// @Summary Get cohort detail
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id} [get]
func (h *CohortHandler) Get(c *gin.Context) {
	cohort, err := h.cohorts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cohort, nil)
}

// Create godoc
// @Summary Create cohort
// @Tags Cohorts
// @Accept json
// @Produce json
// @Param payload body service.CreateCohortRequest true "Cohort payload"
// @Success 201 {object} response.Envelope
// @Router /cohorts [post]
func (h *CohortHandler) Create(c *gin.Context) {
	var req service.CreateCohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	cohort, err := h.cohorts.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cohort)
}

// Update godoc
// @Summary Update cohort, including advancing its session clock
// @Tags Cohorts
// @Accept json
// @Produce json
// @Param id path string true "Cohort ID"
// @Param payload body service.UpdateCohortRequest true "Cohort payload"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id} [patch]
func (h *CohortHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateCohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	cohort, err := h.cohorts.Update(c.Request.Context(), c.Param("id"), claims.UserID, claims.FullName, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cohort, nil)
}

// Archive godoc
// @Summary Archive cohort
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 204 {object} response.Envelope
// @Router /cohorts/{id} [delete]
func (h *CohortHandler) Archive(c *gin.Context) {
	if err := h.cohorts.Archive(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Complete godoc
// @Summary Mark cohort completed
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 204 {object} response.Envelope
// @Router /cohorts/{id}/complete [post]
func (h *CohortHandler) Complete(c *gin.Context) {
	if err := h.cohorts.Complete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
