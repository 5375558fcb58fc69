package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Stripe    StripeConfig
	AI        AIConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
	Logs      LogConfig
	Ops       OpsConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT,default=8080"`
	GinMode         string        `env:"GIN_MODE,default=release"`
	CORSOrigins     string        `env:"CORS_ORIGINS,default=*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES,default=1048576"`
}

type DBConfig struct {
	URL          string        `env:"DATABASE_URL"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLife  time.Duration `env:"DB_CONN_MAX_LIFETIME,default=30m"`
}

// RedisConfig is optional. An empty URL keeps the cache and rate limit
// counters in process memory.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type AuthConfig struct {
	JWTSecret          string        `env:"JWT_SECRET"`
	TokenTTL           time.Duration `env:"JWT_TTL,default=168h"`
	CookieName         string        `env:"AUTH_COOKIE_NAME,default=toeic_jwt"`
	CookieSecure       bool          `env:"AUTH_COOKIE_SECURE,default=false"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL"`
	FrontendURL        string        `env:"FRONTEND_URL,default=http://localhost:3000"`
}

type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	FrontendURL   string `env:"STRIPE_FRONTEND_URL,default=http://localhost:3000"`
	TrialPlanID   string `env:"TRIAL_PLAN_ID,default=premium_monthly"`
	TrialDays     int    `env:"TRIAL_DAYS,default=7"`
}

type AIConfig struct {
	APIKey      string        `env:"OPENAI_API_KEY"`
	BaseURL     string        `env:"OPENAI_BASE_URL"`
	Model       string        `env:"OPENAI_MODEL,default=gpt-4o-mini"`
	Timeout     time.Duration `env:"AI_TIMEOUT,default=60s"`
	Temperature float64       `env:"AI_TEMPERATURE,default=0.7"`
}

type EmailConfig struct {
	SendGridAPIKey string  `env:"SENDGRID_API_KEY"`
	FromAddress    string  `env:"EMAIL_FROM,default=no-reply@toeicprep.app"`
	FromName       string  `env:"EMAIL_FROM_NAME,default=TOEIC Prep"`
	SendsPerSecond float64 `env:"EMAIL_SENDS_PER_SECOND,default=5"`
}

// RateLimitConfig carries the per-class overrides. Zero values fall back to
// the defaults in the ratelimit package.
type RateLimitConfig struct {
	GeneralWindow    time.Duration `env:"RATE_LIMIT_GENERAL_WINDOW,default=15m"`
	GeneralMax       int           `env:"RATE_LIMIT_GENERAL_MAX,default=100"`
	AuthWindow       time.Duration `env:"RATE_LIMIT_AUTH_WINDOW,default=15m"`
	AuthMax          int           `env:"RATE_LIMIT_AUTH_MAX,default=20"`
	OAuthWindow      time.Duration `env:"RATE_LIMIT_OAUTH_WINDOW,default=5m"`
	OAuthMax         int           `env:"RATE_LIMIT_OAUTH_MAX,default=50"`
	AIWindow         time.Duration `env:"RATE_LIMIT_AI_WINDOW,default=15m"`
	AIMax            int           `env:"RATE_LIMIT_AI_MAX,default=30"`
	UploadWindow     time.Duration `env:"RATE_LIMIT_UPLOAD_WINDOW,default=60m"`
	UploadMax        int           `env:"RATE_LIMIT_UPLOAD_MAX,default=10"`
	SlowDownAfter    int           `env:"SLOW_DOWN_AFTER,default=50"`
	SlowDownStep     time.Duration `env:"SLOW_DOWN_STEP,default=500ms"`
	SlowDownMaxDelay time.Duration `env:"SLOW_DOWN_MAX_DELAY,default=20s"`
}

type LogConfig struct {
	Level         string        `env:"LOG_LEVEL,default=info"`
	Format        string        `env:"LOG_FORMAT,default=json"`
	SlowThreshold time.Duration `env:"SLOW_REQUEST_THRESHOLD,default=1s"`
}

type OpsConfig struct {
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
}

// Load reads .env (when present) and decodes the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MaintenanceConfig is the subset the database maintenance commands need.
type MaintenanceConfig struct {
	DB   DBConfig
	Logs LogConfig
	Ops  OpsConfig
}

// LoadMaintenance is Load without the API's auth and billing requirements.
func LoadMaintenance() (*MaintenanceConfig, error) {
	_ = godotenv.Load()

	var cfg MaintenanceConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	if cfg.DB.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable not set")
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.URL == "" {
		return errors.New("DATABASE_URL environment variable not set")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable not set")
	}
	if LoadFeatures().BillingEnabled && c.Stripe.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required when billing is enabled")
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (s ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (a AuthConfig) GoogleEnabled() bool {
	return a.GoogleClientID != "" && a.GoogleClientSecret != "" && a.GoogleRedirectURL != ""
}
