package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toeicprep/cache"
	"toeicprep/config"
	"toeicprep/db"
	"toeicprep/handlers"
	"toeicprep/logging"
	"toeicprep/ratelimit"
	"toeicprep/schemapatch"
	"toeicprep/services"
	"toeicprep/store"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// migrate applies versioned migrations. When a previous run left the
// migration table dirty and patching on boot is allowed, the remediation
// set clears it and migration is retried once.
func migrate(ctx context.Context, conn *sqlx.DB, runner *schemapatch.Runner, features config.Features, logger *zap.Logger) {
	err := db.Migrate(conn.DB, logger)
	if errors.Is(err, db.ErrDirty) && features.PatchOnBoot {
		logger.Warn("migrations dirty, running schema patches", zap.Error(err))
		if _, perr := runner.Run(ctx, []schemapatch.Patch{{
			Name:  "migration_dirty_flag",
			Steps: []schemapatch.Step{schemapatch.ClearDirtyMigration()},
		}}); perr != nil {
			logger.Error("schema patch run failed", zap.Error(perr))
		}
		err = db.Migrate(conn.DB, logger)
	}
	if err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	if features.PatchOnBoot {
		if _, err := runner.Run(ctx, schemapatch.Remediation()); err != nil {
			logger.Error("schema patch run failed", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	logger, err := logging.New(cfg.Logs.Level, cfg.Logs.Format)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()
	gin.SetMode(cfg.Server.GinMode)

	features := config.LoadFeatures()
	logger.Info("starting toeicprep",
		zap.Bool("billing", features.BillingEnabled),
		zap.Bool("ai", features.AIEnabled),
		zap.Bool("notifications", features.NotificationsEnabled),
		zap.Bool("patch_on_boot", features.PatchOnBoot),
	)

	conn, err := db.InitDB(cfg.DB)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	ctx := context.Background()
	slack := services.NewSlackNotifier(cfg.Ops.SlackWebhookURL, logger)
	runner := schemapatch.NewRunner(conn, logger, slack)
	migrate(ctx, conn, runner, features, logger)

	var (
		cacheStore cache.Store       = cache.NewMemoryStore()
		counter    ratelimit.Counter = ratelimit.NewMemoryCounter()
		checks                       = map[string]handlers.HealthCheck{"database": conn.PingContext}
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer client.Close()
		cacheStore = cache.NewRedisStore(client, "toeicprep:cache:")
		counter = ratelimit.NewRedisCounter(client, "toeicprep:rl:")
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("using redis for cache and rate limits")
	}

	st := store.New(conn)
	quotas := services.NewQuotaService(st, logger)

	deps := handlers.Deps{
		Config:       cfg,
		Features:     features,
		Logger:       logger,
		Users:        st,
		Vocabulary:   st,
		Practice:     st,
		Quotas:       quotas,
		Patches:      runner,
		HealthChecks: checks,
	}
	if features.BillingEnabled {
		deps.Billing = services.NewBillingService(st, services.NewStripeProvider(cfg.Stripe), cacheStore, slack, cfg.Stripe, logger)
	}
	if features.AIEnabled {
		if cfg.AI.APIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, AI requests will fail")
		}
		deps.AI = services.NewAIService(services.NewOpenAIGenerator(cfg.AI), logger)
	}
	if features.NotificationsEnabled {
		mailer := services.NewSendGridMailer(cfg.Email, "")
		deps.Notifications, err = services.NewNotificationService(mailer, st, cfg.Email.SendsPerSecond, logger)
		if err != nil {
			logger.Fatal("failed to load notification templates", zap.Error(err))
		}
	}

	router := handlers.NewRouter(handlers.New(deps), counter, ratelimit.NewPolicies(cfg.RateLimit))
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
