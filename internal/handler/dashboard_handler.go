package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// DashboardHandler serves the learner home payload.
type DashboardHandler struct {
	dashboards *service.DashboardService
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(dashboards *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboards: dashboards}
}

// Me godoc
// @Summary Current user's dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	dashboard, err := h.dashboards.ForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"cached": dashboard.Meta.Cached}
	if len(dashboard.Meta.Degraded) > 0 {
		meta["degraded"] = dashboard.Meta.Degraded
	}
	response.JSON(c, http.StatusOK, dashboard, nil, meta)
}

// CohortActivity godoc
// @Summary Recent activity for a cohort
// @Tags Dashboard
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 200 {object} response.Envelope
// @Router /cohorts/{id}/activity [get]
func (h *DashboardHandler) CohortActivity(c *gin.Context) {
	entries, err := h.dashboards.CohortActivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
