package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"toeicprep/models"

	"github.com/jmoiron/sqlx"
)

const planColumns = `id, name, price_cents, currency, interval, stripe_price_id, features, limits,
	is_active, sort_order, created_at`

const subscriptionColumns = `id, user_id, plan_id, stripe_customer_id, stripe_subscription_id, status,
	current_period_start, current_period_end, trial_start, trial_end, cancel_at_period_end,
	created_at, updated_at`

// ListPlans returns active plans ordered for display. Empty filters match
// every currency or interval.
func (s *Store) ListPlans(ctx context.Context, currency, interval string) ([]models.SubscriptionPlan, error) {
	plans := []models.SubscriptionPlan{}
	err := s.db.SelectContext(ctx, &plans, `
		SELECT `+planColumns+`
		FROM subscription_plans
		WHERE is_active
		  AND ($1 = '' OR currency = $1)
		  AND ($2 = '' OR interval = $2)
		ORDER BY sort_order, id`,
		currency, interval,
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (models.SubscriptionPlan, error) {
	var p models.SubscriptionPlan
	err := s.db.GetContext(ctx, &p, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
	return p, notFound(err)
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (models.UserSubscription, error) {
	var sub models.UserSubscription
	err := s.db.GetContext(ctx, &sub, `SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1`, userID)
	return sub, notFound(err)
}

// CreateTrial inserts a trialing subscription. A user who already has a
// subscription row, in any status, gets ErrConflict.
func (s *Store) CreateTrial(ctx context.Context, userID, planID string, start, end time.Time) (models.UserSubscription, error) {
	var sub models.UserSubscription
	err := s.db.GetContext(ctx, &sub, `
		INSERT INTO user_subscriptions (user_id, plan_id, status, trial_start, trial_end,
			current_period_start, current_period_end)
		VALUES ($1, $2, 'trialing', $3, $4, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+subscriptionColumns,
		userID, planID, start, end,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UserSubscription{}, ErrConflict
		}
		return models.UserSubscription{}, fmt.Errorf("create trial: %w", err)
	}
	return sub, nil
}

// SubscriptionUpdate is the provider's view of a subscription, applied as
// an upsert keyed by user.
type SubscriptionUpdate struct {
	UserID            string
	PlanID            string
	CustomerID        string
	SubscriptionID    string
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
}

// BillingTx is the set of writes a payment event may perform. All of them
// commit or roll back together with the event's ledger entry.
type BillingTx interface {
	UpsertSubscription(ctx context.Context, u SubscriptionUpdate) error
	SetStatusBySubscriptionID(ctx context.Context, subscriptionID, status string) (bool, error)
	UserIDByCustomer(ctx context.Context, customerID string) (string, error)
	PlanIDByPrice(ctx context.Context, priceID string) (string, error)
	LinkCustomer(ctx context.Context, userID, customerID string) error
}

// WithPaymentEvent records eventID in the payment_events ledger and runs fn
// in the same transaction. applied is false when the event was already
// recorded, in which case fn is not called.
func (s *Store) WithPaymentEvent(ctx context.Context, eventID, eventType string, fn func(BillingTx) error) (applied bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin payment event: %w", err)
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payment_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("record payment event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err = fn(&billingTx{tx: tx}); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment event: %w", err)
	}
	return true, nil
}

type billingTx struct {
	tx *sqlx.Tx
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (b *billingTx) UpsertSubscription(ctx context.Context, u SubscriptionUpdate) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO user_subscriptions (user_id, plan_id, stripe_customer_id, stripe_subscription_id,
			status, current_period_start, current_period_end, trial_start, trial_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id,
		    stripe_customer_id = EXCLUDED.stripe_customer_id,
		    stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, user_subscriptions.stripe_subscription_id),
		    status = EXCLUDED.status,
		    current_period_start = COALESCE(EXCLUDED.current_period_start, user_subscriptions.current_period_start),
		    current_period_end = COALESCE(EXCLUDED.current_period_end, user_subscriptions.current_period_end),
		    trial_start = COALESCE(EXCLUDED.trial_start, user_subscriptions.trial_start),
		    trial_end = COALESCE(EXCLUDED.trial_end, user_subscriptions.trial_end),
		    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		    updated_at = NOW()`,
		u.UserID, u.PlanID, u.CustomerID, nullable(u.SubscriptionID), u.Status,
		u.PeriodStart, u.PeriodEnd, u.TrialStart, u.TrialEnd, u.CancelAtPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (b *billingTx) SetStatusBySubscriptionID(ctx context.Context, subscriptionID, status string) (bool, error) {
	res, err := b.tx.ExecContext(ctx, `
		UPDATE user_subscriptions SET status = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $1`,
		subscriptionID, status,
	)
	if err != nil {
		return false, fmt.Errorf("set subscription status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *billingTx) UserIDByCustomer(ctx context.Context, customerID string) (string, error) {
	var id string
	err := b.tx.GetContext(ctx, &id, `SELECT id FROM users WHERE stripe_customer_id = $1`, customerID)
	return id, notFound(err)
}

func (b *billingTx) PlanIDByPrice(ctx context.Context, priceID string) (string, error) {
	var id string
	err := b.tx.GetContext(ctx, &id, `SELECT id FROM subscription_plans WHERE stripe_price_id = $1 AND stripe_price_id <> ''`, priceID)
	return id, notFound(err)
}

func (b *billingTx) LinkCustomer(ctx context.Context, userID, customerID string) error {
	_, err := b.tx.ExecContext(ctx, `
		UPDATE users SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1 AND stripe_customer_id IS DISTINCT FROM $2`,
		userID, customerID,
	)
	return err
}
