package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param cohortId query string false "Filter by cohort"
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.CohortID = c.Query("cohortId")
	filter.CourseID = c.Query("courseId")
	filter.UserID = c.Query("userId")
	filter.Status = models.EnrollmentStatus(c.Query("status"))
	filter.Role = models.UserRole(c.Query("role"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.enrollments.TrackView(c.Request.Context(), enrollment.ID)
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Invite godoc
// @Summary Invite a learner into a cohort
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.InviteEnrollmentRequest true "Invite payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/invite [post]
func (h *EnrollmentHandler) Invite(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.InviteEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Invite(c.Request.Context(), claims.UserID, claims.FullName, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Signup godoc
// @Summary Self-service signup into a cohort
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.SignupEnrollmentRequest true "Signup payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments/signup [post]
func (h *EnrollmentHandler) Signup(c *gin.Context) {
	var req service.SignupEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Signup(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Withdraw godoc
// @Summary Withdraw an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 204 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.enrollments.Withdraw(c.Request.Context(), c.Param("id"), claims.UserID, claims.FullName); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetCurrentSession godoc
// @Summary Override a learner's session clock
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body object true "Session number"
// @Success 204 {object} response.Envelope
// @Router /enrollments/{id}/session [put]
func (h *EnrollmentHandler) SetCurrentSession(c *gin.Context) {
	var payload struct {
		CurrentSession int `json:"current_session" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.enrollments.SetCurrentSession(c.Request.Context(), c.Param("id"), payload.CurrentSession); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
