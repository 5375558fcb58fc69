package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"toeicprep/config"

	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"
)

var ErrInvalidSignature = errors.New("webhook signature verification failed")

type CheckoutParams struct {
	UserID     string
	PlanID     string
	CustomerID string
	PriceID    string
}

// PaymentProvider is the hosted payment service behind billing.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CheckoutURL(ctx context.Context, p CheckoutParams) (string, error)
	PortalURL(ctx context.Context, customerID string) (string, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type StripeProvider struct {
	webhookSecret string
	frontendURL   string
}

func NewStripeProvider(cfg config.StripeConfig) *StripeProvider {
	stripe.Key = cfg.SecretKey
	return &StripeProvider{
		webhookSecret: cfg.WebhookSecret,
		frontendURL:   strings.TrimRight(cfg.FrontendURL, "/"),
	}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CheckoutURL(ctx context.Context, cp CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(cp.CustomerID),
		ClientReferenceID: stripe.String(cp.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": cp.UserID, "plan_id": cp.PlanID},
		},
		SuccessURL: stripe.String(p.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.frontendURL + "/billing/cancel"),
	}
	params.Context = ctx
	params.AddMetadata("user_id", cp.UserID)
	params.AddMetadata("plan_id", cp.PlanID)

	s, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return s.URL, nil
}

func (p *StripeProvider) PortalURL(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.frontendURL + "/settings/billing"),
	}
	params.Context = ctx

	s, err := portal.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return s.URL, nil
}

// ConstructEvent verifies the Stripe-Signature header before decoding.
func (p *StripeProvider) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if p.webhookSecret == "" || signature == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
