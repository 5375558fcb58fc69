package handlers

import (
	"errors"
	"io"
	"net/http"

	"toeicprep/respond"
	"toeicprep/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

// StripeWebhook verifies the raw body against the signature header before
// anything is decoded.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		respond.Error(c, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	res, err := h.Billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, services.ErrInvalidSignature) {
		h.Logger.Warn("webhook signature rejected", zap.String("ip", c.ClientIP()))
		respond.Error(c, http.StatusBadRequest, "Invalid signature")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to process webhook", err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"received": true, "duplicate": res.Duplicate})
}
