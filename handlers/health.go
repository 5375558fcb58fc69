package handlers

import (
	"context"
	"net/http"
	"time"

	"toeicprep/respond"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.HealthChecks))
	healthy := true
	for name, check := range h.HealthChecks {
		if err := check(ctx); err != nil {
			h.Logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "up"
	}

	data := gin.H{"status": "ok", "checks": checks, "time": h.now().UTC()}
	if !healthy {
		data["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, respond.Envelope{Success: false, Error: "service degraded", Data: data})
		return
	}
	respond.OK(c, http.StatusOK, data)
}
