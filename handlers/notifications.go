package handlers

import (
	"net/http"

	"toeicprep/respond"
	"toeicprep/services"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
)

type NotificationRequest struct {
	Type       string         `json:"type" binding:"required,oneof=security_alert maintenance_notice activity_digest feature_announcement"`
	Recipients []string       `json:"recipients" binding:"omitempty,max=500,dive,email"`
	UserIDs    []string       `json:"userIds" binding:"omitempty,max=500,dive,uuid"`
	Data       map[string]any `json:"data"`
}

func (r NotificationRequest) Validate() []validation.FieldError {
	if len(r.Recipients) == 0 && len(r.UserIDs) == 0 {
		return []validation.FieldError{{Field: "recipients", Message: "recipients or userIds is required"}}
	}
	return nil
}

func (h *Handler) NotificationTypes(c *gin.Context) {
	respond.OK(c, http.StatusOK, services.EventTypes())
}

func (h *Handler) SendNotification(c *gin.Context) {
	req := validation.Body[NotificationRequest](c)
	report, err := h.Notifications.Send(c.Request.Context(), services.NotificationRequest{
		Type:       req.Type,
		Recipients: req.Recipients,
		UserIDs:    req.UserIDs,
		Data:       req.Data,
	})
	if err != nil {
		h.serverError(c, "Failed to send notifications", err)
		return
	}
	respond.OK(c, http.StatusOK, report)
}
