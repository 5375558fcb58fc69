package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toeicprep/cache"
	"toeicprep/config"
	"toeicprep/metrics"
	"toeicprep/models"
	"toeicprep/store"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const PlansCacheTTL = 10 * time.Minute

var (
	ErrPlanNotFound       = errors.New("plan not found")
	ErrPlanNotPurchasable = errors.New("plan cannot be purchased")
	ErrNoBillingAccount   = errors.New("no billing account for user")
	ErrTrialUnavailable   = errors.New("a subscription or trial already exists for this account")
)

type BillingStore interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	ListPlans(ctx context.Context, currency, interval string) ([]models.SubscriptionPlan, error)
	GetPlan(ctx context.Context, id string) (models.SubscriptionPlan, error)
	GetSubscription(ctx context.Context, userID string) (models.UserSubscription, error)
	CreateTrial(ctx context.Context, userID, planID string, start, end time.Time) (models.UserSubscription, error)
	WithPaymentEvent(ctx context.Context, eventID, eventType string, fn func(store.BillingTx) error) (bool, error)
}

// Alerter posts an operational message to the team.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type BillingService struct {
	store    BillingStore
	payments PaymentProvider
	cache    cache.Store
	alerter  Alerter
	cfg      config.StripeConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewBillingService(s BillingStore, payments PaymentProvider, c cache.Store, alerter Alerter, cfg config.StripeConfig, logger *zap.Logger) *BillingService {
	return &BillingService{
		store:    s,
		payments: payments,
		cache:    c,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Plans lists active plans, served from the cache for PlansCacheTTL.
func (b *BillingService) Plans(ctx context.Context, currency, interval string) ([]models.SubscriptionPlan, error) {
	key := fmt.Sprintf("plans:%s:%s", currency, interval)

	var plans []models.SubscriptionPlan
	ok, err := cache.GetJSON(ctx, b.cache, key, &plans)
	if err != nil {
		b.logger.Warn("plan cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		return plans, nil
	}

	plans, err = b.store.ListPlans(ctx, currency, interval)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, b.cache, key, plans, PlansCacheTTL); err != nil {
		b.logger.Warn("plan cache write failed", zap.String("key", key), zap.Error(err))
	}
	return plans, nil
}

type SubscriptionView struct {
	Subscription models.UserSubscription `json:"subscription"`
	Plan         models.SubscriptionPlan `json:"plan"`
	Entitled     bool                    `json:"entitled"`
}

// Subscription returns nil without error when the user never subscribed.
func (b *BillingService) Subscription(ctx context.Context, userID string) (*SubscriptionView, error) {
	sub, err := b.store.GetSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plan, err := b.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", sub.PlanID, err)
	}
	return &SubscriptionView{Subscription: sub, Plan: plan, Entitled: sub.Entitled(b.now())}, nil
}

func (b *BillingService) StartTrial(ctx context.Context, userID string) (models.UserSubscription, error) {
	if _, err := b.store.GetPlan(ctx, b.cfg.TrialPlanID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.UserSubscription{}, ErrPlanNotFound
		}
		return models.UserSubscription{}, err
	}

	start := b.now().UTC()
	end := start.AddDate(0, 0, b.cfg.TrialDays)
	sub, err := b.store.CreateTrial(ctx, userID, b.cfg.TrialPlanID, start, end)
	if errors.Is(err, store.ErrConflict) {
		return models.UserSubscription{}, ErrTrialUnavailable
	}
	return sub, err
}

func (b *BillingService) ensureCustomer(ctx context.Context, userID string) (string, error) {
	user, err := b.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	id, err := b.payments.CreateCustomer(ctx, user.ID, user.Email, user.Name)
	if err != nil {
		return "", err
	}
	if err := b.store.SetStripeCustomerID(ctx, user.ID, id); err != nil {
		return "", fmt.Errorf("save customer id: %w", err)
	}
	return id, nil
}

func (b *BillingService) Checkout(ctx context.Context, userID, planID string) (string, error) {
	plan, err := b.store.GetPlan(ctx, planID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrPlanNotFound
	}
	if err != nil {
		return "", err
	}
	if !plan.IsActive || plan.PriceCents == 0 || plan.StripePriceID == "" {
		return "", ErrPlanNotPurchasable
	}

	customerID, err := b.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	return b.payments.CheckoutURL(ctx, CheckoutParams{
		UserID:     userID,
		PlanID:     plan.ID,
		CustomerID: customerID,
		PriceID:    plan.StripePriceID,
	})
}

func (b *BillingService) Portal(ctx context.Context, userID string) (string, error) {
	user, err := b.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return "", ErrNoBillingAccount
	}
	return b.payments.PortalURL(ctx, *user.StripeCustomerID)
}

type WebhookResult struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate"`
}

// HandleWebhook verifies and applies a payment event at most once. The
// event id is recorded in the same transaction as its effects.
func (b *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := b.payments.ConstructEvent(payload, signature)
	if err != nil {
		metrics.RecordWebhookEvent("unknown", "invalid_signature")
		return WebhookResult{}, err
	}
	res := WebhookResult{EventID: event.ID, Type: string(event.Type)}
	log := b.logger.With(zap.String("event_id", event.ID), zap.String("event_type", res.Type))

	var alerts []string
	applied, err := b.store.WithPaymentEvent(ctx, event.ID, res.Type, func(tx store.BillingTx) error {
		return b.apply(ctx, tx, event, log, &alerts)
	})
	if err != nil {
		metrics.RecordWebhookEvent(res.Type, "error")
		return res, err
	}
	if !applied {
		metrics.RecordWebhookEvent(res.Type, "duplicate")
		log.Info("duplicate webhook delivery ignored")
		res.Duplicate = true
		return res, nil
	}
	metrics.RecordWebhookEvent(res.Type, "applied")

	if b.alerter != nil {
		for _, text := range alerts {
			if err := b.alerter.Alert(ctx, text); err != nil {
				log.Warn("billing alert failed", zap.Error(err))
			}
		}
	}
	return res, nil
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// subscriptionStatus folds the provider's statuses into ours.
func subscriptionStatus(s stripe.SubscriptionStatus) string {
	switch s {
	case stripe.SubscriptionStatusActive:
		return models.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return models.StatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.StatusPastDue
	default:
		return models.StatusCanceled
	}
}

func (b *BillingService) apply(ctx context.Context, tx store.BillingTx, event stripe.Event, log *zap.Logger, alerts *[]string) error {
	if event.Data == nil {
		log.Warn("webhook event without data")
		return nil
	}
	switch string(event.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		customerID := ""
		if sess.Customer != nil {
			customerID = sess.Customer.ID
		}
		userID := sess.ClientReferenceID
		if userID == "" {
			userID = sess.Metadata["user_id"]
		}
		if userID == "" && customerID != "" {
			id, err := tx.UserIDByCustomer(ctx, customerID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			userID = id
		}
		planID := sess.Metadata["plan_id"]
		if userID == "" || planID == "" {
			log.Warn("checkout session without user or plan", zap.String("customer_id", customerID))
			return nil
		}
		if customerID != "" {
			if err := tx.LinkCustomer(ctx, userID, customerID); err != nil {
				return err
			}
		}
		subID := ""
		if sess.Subscription != nil {
			subID = sess.Subscription.ID
		}
		return tx.UpsertSubscription(ctx, store.SubscriptionUpdate{
			UserID:         userID,
			PlanID:         planID,
			CustomerID:     customerID,
			SubscriptionID: subID,
			Status:         models.StatusActive,
		})

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		customerID := ""
		if sub.Customer != nil {
			customerID = sub.Customer.ID
		}
		userID := sub.Metadata["user_id"]
		if userID == "" && customerID != "" {
			id, err := tx.UserIDByCustomer(ctx, customerID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			userID = id
		}

		planID := ""
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			id, err := tx.PlanIDByPrice(ctx, sub.Items.Data[0].Price.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			planID = id
		}
		if planID == "" {
			planID = sub.Metadata["plan_id"]
		}
		if userID == "" || planID == "" {
			log.Warn("subscription event without known user or plan",
				zap.String("customer_id", customerID), zap.String("subscription_id", sub.ID))
			return nil
		}

		status := subscriptionStatus(sub.Status)
		if string(event.Type) == "customer.subscription.deleted" {
			status = models.StatusCanceled
		}
		return tx.UpsertSubscription(ctx, store.SubscriptionUpdate{
			UserID:            userID,
			PlanID:            planID,
			CustomerID:        customerID,
			SubscriptionID:    sub.ID,
			Status:            status,
			PeriodStart:       unixTime(sub.CurrentPeriodStart),
			PeriodEnd:         unixTime(sub.CurrentPeriodEnd),
			TrialStart:        unixTime(sub.TrialStart),
			TrialEnd:          unixTime(sub.TrialEnd),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		})

	case "invoice.payment_failed", "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil
		}
		status := models.StatusActive
		if string(event.Type) == "invoice.payment_failed" {
			status = models.StatusPastDue
		}
		found, err := tx.SetStatusBySubscriptionID(ctx, inv.Subscription.ID, status)
		if err != nil {
			return err
		}
		if !found {
			log.Warn("invoice for unknown subscription", zap.String("subscription_id", inv.Subscription.ID))
		}
		if status == models.StatusPastDue {
			customerID := ""
			if inv.Customer != nil {
				customerID = inv.Customer.ID
			}
			*alerts = append(*alerts, fmt.Sprintf("Payment failed\nCustomer: %s\nSubscription: %s\nAmount due: %d %s",
				customerID, inv.Subscription.ID, inv.AmountDue, inv.Currency))
		}
		return nil

	default:
		log.Debug("webhook event ignored")
		return nil
	}
}
