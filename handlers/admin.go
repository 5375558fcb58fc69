package handlers

import (
	"errors"
	"net/http"

	"toeicprep/middleware"
	"toeicprep/respond"
	"toeicprep/schemapatch"
	"toeicprep/store"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RoleRequest struct {
	Role string `json:"role" binding:"required,oneof=user admin"`
}

func (h *Handler) ListPatches(c *gin.Context) {
	entries, err := h.Patches.Ledger(c.Request.Context())
	if err != nil {
		h.serverError(c, "Failed to load patch ledger", err)
		return
	}
	respond.OK(c, http.StatusOK, entries)
}

func (h *Handler) RunPatches(c *gin.Context) {
	h.Logger.Info("schema patches requested", zap.String("admin_id", middleware.UserID(c)))
	results, err := h.Patches.Run(c.Request.Context(), schemapatch.Remediation())
	if err != nil {
		h.serverError(c, "Failed to run schema patches", err)
		return
	}

	failed := 0
	for _, r := range results {
		failed += r.Failed
	}
	respond.Message(c, http.StatusOK, "Schema patches finished", gin.H{
		"results": results,
		"failed":  failed,
	})
}

func (h *Handler) SetUserRole(c *gin.Context) {
	id := validation.Params[IDParam](c).ID
	req := validation.Body[RoleRequest](c)

	if id == middleware.UserID(c) && req.Role != middleware.UserRole(c) {
		respond.Error(c, http.StatusBadRequest, "Cannot change your own role")
		return
	}

	err := h.Users.SetUserRole(c.Request.Context(), id, req.Role)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to update role", err)
		return
	}
	h.Logger.Info("user role changed",
		zap.String("admin_id", middleware.UserID(c)),
		zap.String("user_id", id),
		zap.String("role", req.Role),
	)
	respond.Message(c, http.StatusOK, "Role updated", gin.H{"id": id, "role": req.Role})
}
