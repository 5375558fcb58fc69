package handlers

import (
	"errors"
	"net/http"

	"toeicprep/middleware"
	"toeicprep/respond"
	"toeicprep/services"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
)

type PlansQuery struct {
	Currency string `form:"currency" binding:"omitempty,len=3,alpha"`
	Interval string `form:"interval" binding:"omitempty,oneof=month year"`
}

type CheckoutRequest struct {
	PlanID string `json:"planId" binding:"required,max=64"`
}

func (h *Handler) ListPlans(c *gin.Context) {
	q := validation.QueryOf[PlansQuery](c)
	plans, err := h.Billing.Plans(c.Request.Context(), q.Currency, q.Interval)
	if err != nil {
		h.serverError(c, "Failed to load plans", err)
		return
	}
	respond.OK(c, http.StatusOK, plans)
}

func (h *Handler) GetSubscription(c *gin.Context) {
	view, err := h.Billing.Subscription(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.serverError(c, "Failed to load subscription", err)
		return
	}
	if view == nil {
		respond.Message(c, http.StatusOK, "No subscription", nil)
		return
	}
	respond.OK(c, http.StatusOK, view)
}

func (h *Handler) StartTrial(c *gin.Context) {
	sub, err := h.Billing.StartTrial(c.Request.Context(), middleware.UserID(c))
	switch {
	case errors.Is(err, services.ErrTrialUnavailable):
		respond.Error(c, http.StatusConflict, "Trial already used or subscription exists")
	case errors.Is(err, services.ErrPlanNotFound):
		respond.Error(c, http.StatusNotFound, "Trial plan not available")
	case err != nil:
		h.serverError(c, "Failed to start trial", err)
	default:
		respond.Message(c, http.StatusCreated, "Trial started", sub)
	}
}

func (h *Handler) Checkout(c *gin.Context) {
	req := validation.Body[CheckoutRequest](c)
	url, err := h.Billing.Checkout(c.Request.Context(), middleware.UserID(c), req.PlanID)
	switch {
	case errors.Is(err, services.ErrPlanNotFound):
		respond.Error(c, http.StatusNotFound, "Plan not found")
	case errors.Is(err, services.ErrPlanNotPurchasable):
		respond.Error(c, http.StatusBadRequest, "Plan cannot be purchased")
	case err != nil:
		h.serverError(c, "Failed to create checkout session", err)
	default:
		respond.OK(c, http.StatusOK, gin.H{"url": url})
	}
}

func (h *Handler) Portal(c *gin.Context) {
	url, err := h.Billing.Portal(c.Request.Context(), middleware.UserID(c))
	switch {
	case errors.Is(err, services.ErrNoBillingAccount):
		respond.Error(c, http.StatusBadRequest, "No billing account yet")
	case err != nil:
		h.serverError(c, "Failed to create portal session", err)
	default:
		respond.OK(c, http.StatusOK, gin.H{"url": url})
	}
}

func (h *Handler) Usage(c *gin.Context) {
	usage, err := h.Quotas.Usage(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.serverError(c, "Failed to load usage", err)
		return
	}
	respond.OK(c, http.StatusOK, usage)
}
