package ratelimit

import (
	"time"

	"toeicprep/config"
)

// Policy is a hard limit for one route class.
type Policy struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
	// SkipSuccessful stops responses below 400 from counting.
	SkipSuccessful bool
}

// SlowDown delays requests once a client passes DelayAfter hits in a window,
// by DelayStep for every hit over the threshold.
type SlowDown struct {
	Name       string
	Window     time.Duration
	DelayAfter int
	DelayStep  time.Duration
	MaxDelay   time.Duration
}

// Delay returns the artificial delay for the count-th request in a window.
func (s SlowDown) Delay(count int) time.Duration {
	over := count - s.DelayAfter
	if over <= 0 {
		return 0
	}
	d := time.Duration(over) * s.DelayStep
	if s.MaxDelay > 0 && d > s.MaxDelay {
		d = s.MaxDelay
	}
	return d
}

type Policies struct {
	General  Policy
	Auth     Policy
	OAuth    Policy
	AI       Policy
	Upload   Policy
	SlowDown SlowDown
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func NewPolicies(cfg config.RateLimitConfig) Policies {
	return Policies{
		General: Policy{
			Name:    "general",
			Window:  orDefault(cfg.GeneralWindow, 15*time.Minute),
			Max:     orDefault(cfg.GeneralMax, 100),
			Message: "Too many requests from this IP, please try again later.",
		},
		Auth: Policy{
			Name:           "auth",
			Window:         orDefault(cfg.AuthWindow, 15*time.Minute),
			Max:            orDefault(cfg.AuthMax, 20),
			Message:        "Too many authentication attempts, please try again later.",
			SkipSuccessful: true,
		},
		OAuth: Policy{
			Name:           "oauth",
			Window:         orDefault(cfg.OAuthWindow, 5*time.Minute),
			Max:            orDefault(cfg.OAuthMax, 50),
			Message:        "Too many OAuth requests, please try again later.",
			SkipSuccessful: true,
		},
		AI: Policy{
			Name:    "ai",
			Window:  orDefault(cfg.AIWindow, 15*time.Minute),
			Max:     orDefault(cfg.AIMax, 30),
			Message: "Too many AI requests, please try again later.",
		},
		Upload: Policy{
			Name:    "upload",
			Window:  orDefault(cfg.UploadWindow, 60*time.Minute),
			Max:     orDefault(cfg.UploadMax, 10),
			Message: "Too many uploads, please try again later.",
		},
		SlowDown: SlowDown{
			Name:       "slowdown",
			Window:     orDefault(cfg.GeneralWindow, 15*time.Minute),
			DelayAfter: orDefault(cfg.SlowDownAfter, 50),
			DelayStep:  orDefault(cfg.SlowDownStep, 500*time.Millisecond),
			MaxDelay:   orDefault(cfg.SlowDownMaxDelay, 20*time.Second),
		},
	}
}
