// Package handlers holds the gin handlers and the router for the API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"toeicprep/config"
	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/respond"
	"toeicprep/schemapatch"
	"toeicprep/services"
	"toeicprep/store"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash, name string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	UpsertGoogleUser(ctx context.Context, googleID, email, name string) (models.User, error)
	TouchLogin(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id, name string) (models.User, error)
	SetUserRole(ctx context.Context, id, role string) error
}

type VocabularyStore interface {
	ListVocabulary(ctx context.Context, userID string, f store.VocabularyFilter) ([]models.VocabularyItem, int, error)
	GetVocabulary(ctx context.Context, userID, id string) (models.VocabularyItem, error)
	CreateVocabulary(ctx context.Context, item models.VocabularyItem) (models.VocabularyItem, error)
	UpdateVocabulary(ctx context.Context, item models.VocabularyItem) (models.VocabularyItem, error)
	DeleteVocabulary(ctx context.Context, userID, id string) error
	ReviewVocabulary(ctx context.Context, userID, id string, mastered *bool) (models.VocabularyItem, error)
	SetEnrichment(ctx context.Context, userID, id string, meanings types.JSONText, example string) (models.VocabularyItem, error)
	ImportVocabulary(ctx context.Context, userID string, items []models.VocabularyItem) (int, int, error)
}

type PracticeStore interface {
	CreatePracticeRecord(ctx context.Context, r models.PracticeRecord) (models.PracticeRecord, error)
	ListPracticeRecords(ctx context.Context, userID, part string, limit, offset int) ([]models.PracticeRecord, error)
	PracticeStats(ctx context.Context, userID string) (store.PracticeStats, error)
}

type PatchRunner interface {
	Run(ctx context.Context, patches []schemapatch.Patch) ([]schemapatch.Result, error)
	Ledger(ctx context.Context) ([]schemapatch.LedgerEntry, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Deps is everything the handlers need. Services for disabled features may
// be nil.
type Deps struct {
	Config        *config.Config
	Features      config.Features
	Logger        *zap.Logger
	Users         UserStore
	Vocabulary    VocabularyStore
	Practice      PracticeStore
	Billing       *services.BillingService
	Quotas        *services.QuotaService
	AI            *services.AIService
	Notifications *services.NotificationService
	Patches       PatchRunner
	HealthChecks  map[string]HealthCheck
}

type Handler struct {
	Deps
	oauth       *oauth2.Config
	userInfoURL string
	now         func() time.Time
}

func New(d Deps) *Handler {
	h := &Handler{Deps: d, userInfoURL: googleUserInfoURL, now: time.Now}
	if d.Config.Auth.GoogleEnabled() {
		h.oauth = newGoogleOAuth(d.Config.Auth)
	}
	return h
}

// requireFeature answers 404 for routes of a disabled feature.
func requireFeature(enabled bool, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			respond.Abort(c, http.StatusNotFound, message, nil)
			return
		}
		c.Next()
	}
}

// requireAdmin re-reads the caller from the store, so a demoted or
// deactivated admin loses access before the token expires.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.Users.GetUserByID(c.Request.Context(), middleware.UserID(c))
		if errors.Is(err, store.ErrNotFound) {
			respond.Abort(c, http.StatusUnauthorized, "User not found", nil)
			return
		}
		if err != nil {
			h.serverError(c, "Failed to load user", err)
			c.Abort()
			return
		}
		if user.Role != models.RoleAdmin || !user.IsActive {
			respond.Abort(c, http.StatusForbidden, "Insufficient permissions", nil)
			return
		}
		c.Next()
	}
}

// serverError logs err with the request id and answers with a generic
// message; database detail never reaches the client.
func (h *Handler) serverError(c *gin.Context, message string, err error) {
	h.Logger.Error(message,
		zap.String("request_id", middleware.RequestID(c)),
		zap.String("route", c.FullPath()),
		zap.String("user_id", middleware.UserID(c)),
		zap.Error(err),
	)
	respond.Error(c, http.StatusInternalServerError, message)
}

// quotaExceeded answers 429 with the exhausted allowance.
func quotaExceeded(c *gin.Context, quota models.UsageQuota) {
	c.JSON(http.StatusTooManyRequests, respond.Envelope{
		Success: false,
		Error:   "quota exceeded",
		Details: gin.H{
			"resource_type": quota.ResourceType,
			"used":          quota.Used,
			"limit":         quota.Limit,
			"resets_at":     quota.PeriodEnd,
		},
	})
}

type IDParam struct {
	ID string `uri:"id" binding:"required,uuid"`
}
