package handlers

import (
	"time"

	"toeicprep/metrics"
	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/ratelimit"
	"toeicprep/validation"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Retry-After", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// NewRouter wires every route. The health probe, metrics and the payment
// webhook sit outside the general rate limit.
func NewRouter(h *Handler, counter ratelimit.Counter, p ratelimit.Policies) *gin.Engine {
	cfg := h.Config
	log := h.Logger

	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogger(log, cfg.Logs.SlowThreshold))
	r.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins())))

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/billing/webhook", requireFeature(h.Features.BillingEnabled, "Billing not enabled"), h.StripeWebhook)

	limited := api.Group("")
	limited.Use(middleware.RateLimit(p.General, counter, log))
	limited.Use(middleware.SlowDown(p.SlowDown, counter, log))

	authLimit := middleware.RateLimit(p.Auth, counter, log)
	oauthLimit := middleware.RateLimit(p.OAuth, counter, log)
	aiLimit := middleware.RateLimit(p.AI, counter, log)
	uploadLimit := middleware.RateLimit(p.Upload, counter, log)

	auth := limited.Group("/auth")
	{
		auth.POST("/register", authLimit, validation.JSON[RegisterRequest](), h.Register)
		auth.POST("/login", authLimit, validation.JSON[LoginRequest](), h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/google", oauthLimit, h.GoogleLogin)
		auth.GET("/google/callback", oauthLimit, h.GoogleCallback)
	}

	authed := limited.Group("")
	authed.Use(middleware.AuthRequired([]byte(cfg.Auth.JWTSecret), cfg.Auth.CookieName))

	authed.GET("/auth/me", h.Me)
	authed.PUT("/auth/profile", validation.JSON[ProfileRequest](), h.UpdateProfile)

	billing := authed.Group("/billing", requireFeature(h.Features.BillingEnabled, "Billing not enabled"))
	{
		billing.GET("/plans", validation.Query[PlansQuery](), h.ListPlans)
		billing.GET("/subscription", h.GetSubscription)
		billing.POST("/trial", h.StartTrial)
		billing.POST("/checkout", validation.JSON[CheckoutRequest](), h.Checkout)
		billing.POST("/portal", h.Portal)
		billing.GET("/usage", h.Usage)
	}

	ai := authed.Group("/ai", requireFeature(h.Features.AIEnabled, "AI features not enabled"), aiLimit)
	{
		ai.POST("/questions/generate", validation.JSON[GenerateQuestionsRequest](), h.GenerateQuestions)
		ai.POST("/chat", validation.JSON[ChatRequest](), h.Chat)
	}

	vocab := authed.Group("/vocabulary")
	{
		vocab.GET("", validation.Query[VocabularyQuery](), h.ListVocabulary)
		vocab.POST("", validation.JSON[VocabularyRequest](), h.CreateVocabulary)
		vocab.POST("/import", uploadLimit, h.ImportVocabulary)
		vocab.PUT("/:id", validation.URI[IDParam](), validation.JSON[VocabularyRequest](), h.UpdateVocabulary)
		vocab.DELETE("/:id", validation.URI[IDParam](), h.DeleteVocabulary)
		vocab.POST("/:id/review", validation.URI[IDParam](), validation.JSON[ReviewRequest](), h.ReviewVocabulary)
		vocab.POST("/:id/enrich", requireFeature(h.Features.AIEnabled, "AI features not enabled"), aiLimit,
			validation.URI[IDParam](), h.EnrichVocabulary)
	}

	practice := authed.Group("/practice")
	{
		practice.POST("", validation.JSON[PracticeRequest](), h.CreatePractice)
		practice.GET("", validation.Query[PracticeQuery](), h.ListPractice)
		practice.GET("/stats", h.PracticeStats)
	}

	notify := authed.Group("/notifications", requireFeature(h.Features.NotificationsEnabled, "Notifications not enabled"))
	{
		notify.GET("/types", h.NotificationTypes)
		notify.POST("/send", middleware.RequireRole(models.RoleAdmin), h.requireAdmin(), validation.JSON[NotificationRequest](), h.SendNotification)
	}

	admin := authed.Group("/admin", middleware.RequireRole(models.RoleAdmin), h.requireAdmin())
	{
		admin.GET("/db/patches", h.ListPatches)
		admin.POST("/db/patches/run", h.RunPatches)
		admin.PUT("/users/:id/role", validation.URI[IDParam](), validation.JSON[RoleRequest](), h.SetUserRole)
	}

	return r
}
