package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// Usage quota resource types.
const (
	ResourceAIQuestion  = "ai_question"
	ResourceAIChat      = "ai_chat"
	ResourceVocabEnrich = "vocab_enrich"
)

var ResourceTypes = []string{ResourceAIQuestion, ResourceAIChat, ResourceVocabEnrich}

type SubscriptionPlan struct {
	ID            string         `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	PriceCents    int            `json:"price_cents" db:"price_cents"`
	Currency      string         `json:"currency" db:"currency"`
	Interval      string         `json:"interval" db:"interval"`
	StripePriceID string         `json:"-" db:"stripe_price_id"`
	Features      types.JSONText `json:"features" db:"features"`
	Limits        types.JSONText `json:"limits" db:"limits"`
	IsActive      bool           `json:"is_active" db:"is_active"`
	SortOrder     int            `json:"sort_order" db:"sort_order"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

type UserSubscription struct {
	ID                   string     `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	PlanID               string     `json:"plan_id" db:"plan_id"`
	StripeCustomerID     string     `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"-" db:"stripe_subscription_id"`
	Status               string     `json:"status" db:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty" db:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	TrialStart           *time.Time `json:"trial_start,omitempty" db:"trial_start"`
	TrialEnd             *time.Time `json:"trial_end,omitempty" db:"trial_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// Entitled reports whether the subscription currently grants its plan.
func (s UserSubscription) Entitled(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusPastDue:
		return true
	case StatusTrialing:
		return s.TrialEnd == nil || now.Before(*s.TrialEnd)
	default:
		return false
	}
}

type UsageQuota struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	PeriodStart  time.Time `json:"period_start" db:"period_start"`
	PeriodEnd    time.Time `json:"period_end" db:"period_end"`
	Used         int       `json:"used" db:"used"`
	Limit        int       `json:"limit" db:"quota_limit"`
}

func (q UsageQuota) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}
