package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"toeicprep/metrics"
	"toeicprep/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	EventSecurityAlert       = "security_alert"
	EventMaintenanceNotice   = "maintenance_notice"
	EventActivityDigest      = "activity_digest"
	EventFeatureAnnouncement = "feature_announcement"
)

var eventSubjects = map[string]string{
	EventSecurityAlert:       "Security alert for your TOEIC Prep account",
	EventMaintenanceNotice:   "Scheduled maintenance",
	EventActivityDigest:      "Your TOEIC Prep study summary",
	EventFeatureAnnouncement: "New in TOEIC Prep",
}

type EventType struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
}

// EventTypes lists the supported notification types in a stable order.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(eventSubjects))
	for t, s := range eventSubjects {
		out = append(out, EventType{Type: t, Subject: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

type RecipientResolver interface {
	NotifiableUsers(ctx context.Context, ids []string) ([]models.User, error)
}

type NotificationRequest struct {
	Type       string
	Recipients []string
	UserIDs    []string
	Data       map[string]any
}

type DeliveryFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type NotificationReport struct {
	Type      string            `json:"type"`
	Requested int               `json:"requested"`
	Sent      int               `json:"sent"`
	Failed    int               `json:"failed"`
	Failures  []DeliveryFailure `json:"failures,omitempty"`
}

type NotificationService struct {
	mailer    Mailer
	users     RecipientResolver
	limiter   *rate.Limiter
	templates *template.Template
	logger    *zap.Logger
}

// NewNotificationService dispatches at most perSecond emails per second.
func NewNotificationService(mailer Mailer, users RecipientResolver, perSecond float64, logger *zap.Logger) (*NotificationService, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	return &NotificationService{
		mailer:    mailer,
		users:     users,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		templates: tmpl,
		logger:    logger,
	}, nil
}

type recipient struct {
	address string
	name    string
}

func (n *NotificationService) recipients(ctx context.Context, req NotificationRequest) ([]recipient, error) {
	seen := make(map[string]bool)
	var out []recipient
	add := func(address, name string) {
		key := strings.ToLower(strings.TrimSpace(address))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, recipient{address: strings.TrimSpace(address), name: name})
	}

	for _, r := range req.Recipients {
		add(r, "")
	}
	if len(req.UserIDs) > 0 {
		users, err := n.users.NotifiableUsers(ctx, req.UserIDs)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			add(u.Email, u.Name)
		}
	}
	return out, nil
}

func (n *NotificationService) render(eventType string, r recipient, data map[string]any) (string, error) {
	name := r.name
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err := n.templates.ExecuteTemplate(&buf, eventType+".html", map[string]any{
		"Name": name,
		"Data": data,
	})
	return buf.String(), err
}

// Send renders and delivers req to every resolved recipient. A failed
// delivery is reported and does not stop the others.
func (n *NotificationService) Send(ctx context.Context, req NotificationRequest) (NotificationReport, error) {
	subject, ok := eventSubjects[req.Type]
	if !ok {
		return NotificationReport{}, fmt.Errorf("unknown notification type %q", req.Type)
	}
	if subj, ok := req.Data["subject"].(string); ok && subj != "" {
		subject = subj
	}

	recipients, err := n.recipients(ctx, req)
	if err != nil {
		return NotificationReport{}, fmt.Errorf("resolve recipients: %w", err)
	}

	report := NotificationReport{Type: req.Type, Requested: len(recipients)}
	for _, r := range recipients {
		if err := n.limiter.Wait(ctx); err != nil {
			return report, err
		}

		html, err := n.render(req.Type, r, req.Data)
		if err == nil {
			err = n.mailer.Send(ctx, Email{
				ToAddress: r.address,
				ToName:    r.name,
				Subject:   subject,
				HTML:      html,
				Text:      subject,
			})
		}
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, DeliveryFailure{Recipient: r.address, Error: err.Error()})
			metrics.RecordEmail(req.Type, "failed")
			n.logger.Warn("notification delivery failed",
				zap.String("type", req.Type),
				zap.String("recipient", r.address),
				zap.Error(err),
			)
			continue
		}
		report.Sent++
		metrics.RecordEmail(req.Type, "sent")
	}

	n.logger.Info("notifications dispatched",
		zap.String("type", req.Type),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
