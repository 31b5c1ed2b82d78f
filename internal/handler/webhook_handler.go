package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

const maxWebhookBody = 1 << 20 // providers keep event payloads well under 1 MiB

// WebhookHandler receives payment and video pipeline callbacks. These
// routes are unauthenticated; trust comes from the signature headers.
type WebhookHandler struct {
	payments  *service.PaymentService
	materials *service.MaterialService
	metrics   *service.MetricsService
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(payments *service.PaymentService, materials *service.MaterialService, metrics *service.MetricsService) *WebhookHandler {
	return &WebhookHandler{payments: payments, materials: materials, metrics: metrics}
}

// Stripe godoc
// @Summary Receive a payment provider webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "unreadable payload"))
		return
	}
	ack, err := h.payments.HandleStripeWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.CountWebhookEvent("stripe", ack.Duplicate)
	}
	response.JSON(c, http.StatusOK, ack, nil)
}

// Mux godoc
// @Summary Receive a video pipeline webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /webhooks/mux [post]
func (h *WebhookHandler) Mux(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "unreadable payload"))
		return
	}
	ack, err := h.materials.HandleMuxWebhook(c.Request.Context(), payload, c.GetHeader("Mux-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.CountWebhookEvent("mux", ack.Duplicate)
	}
	response.JSON(c, http.StatusOK, ack, nil)
}
