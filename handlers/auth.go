package handlers

import (
	"errors"
	"net/http"
	"strings"

	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/respond"
	"toeicprep/store"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"omitempty,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ProfileRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (h *Handler) issue(c *gin.Context, user models.User) (string, bool) {
	token, err := middleware.IssueToken([]byte(h.Config.Auth.JWTSecret), user, h.Config.Auth.TokenTTL)
	if err != nil {
		h.serverError(c, "Failed to issue token", err)
		return "", false
	}
	h.setAuthCookie(c, token)
	return token, true
}

func (h *Handler) setAuthCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.Config.Auth.CookieName, token, int(h.Config.Auth.TokenTTL.Seconds()), "/", "", h.Config.Auth.CookieSecure, true)
}

func (h *Handler) Register(c *gin.Context) {
	req := validation.Body[RegisterRequest](c)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.serverError(c, "Failed to hash password", err)
		return
	}

	user, err := h.Users.CreateUser(c.Request.Context(), email, string(hash), strings.TrimSpace(req.Name))
	if errors.Is(err, store.ErrDuplicate) {
		respond.Error(c, http.StatusConflict, "Email already exists")
		return
	}
	if err != nil {
		h.serverError(c, "Database error", err)
		return
	}

	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	respond.OK(c, http.StatusCreated, authResponse{Token: token, User: user})
}

func (h *Handler) Login(c *gin.Context) {
	req := validation.Body[LoginRequest](c)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.Users.GetUserByEmail(c.Request.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.serverError(c, "Database error", err)
		return
	}

	// Accounts created through Google have no password.
	if user.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)) != nil {
		respond.Error(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		respond.Error(c, http.StatusForbidden, "Account is disabled")
		return
	}

	if err := h.Users.TouchLogin(c.Request.Context(), user.ID); err != nil {
		h.Logger.Warn("touch login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	respond.OK(c, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(h.Config.Auth.CookieName, "", -1, "/", "", h.Config.Auth.CookieSecure, true)
	respond.Message(c, http.StatusOK, "Logged out", nil)
}

func (h *Handler) Me(c *gin.Context) {
	userID := middleware.UserID(c)

	user, err := h.Users.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.serverError(c, "Database error", err)
		return
	}

	resp := gin.H{"user": user}
	if h.Quotas != nil {
		plan, limits, err := h.Quotas.Limits(c.Request.Context(), userID)
		if err != nil {
			h.Logger.Warn("plan lookup failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			resp["plan"] = plan
			resp["limits"] = limits
		}
	}
	respond.OK(c, http.StatusOK, resp)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	req := validation.Body[ProfileRequest](c)

	user, err := h.Users.UpdateProfile(c.Request.Context(), middleware.UserID(c), strings.TrimSpace(req.Name))
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.serverError(c, "Database error", err)
		return
	}
	respond.OK(c, http.StatusOK, user)
}
