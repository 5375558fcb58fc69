package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toeicprep/models"
	"toeicprep/store"

	"go.uber.org/zap"
)

const PlanFree = "free"

var ErrQuotaExceeded = store.ErrQuotaExceeded

// FreeLimits apply to users without an entitled subscription and fill in any
// resource a plan's limits leave out.
var FreeLimits = map[string]int{
	models.ResourceAIQuestion:  3,
	models.ResourceAIChat:      0,
	models.ResourceVocabEnrich: 5,
}

type QuotaStore interface {
	GetSubscription(ctx context.Context, userID string) (models.UserSubscription, error)
	GetPlan(ctx context.Context, id string) (models.SubscriptionPlan, error)
	ConsumeQuota(ctx context.Context, userID, resource string, periodStart, periodEnd time.Time, limit int) (models.UsageQuota, error)
	ReleaseQuota(ctx context.Context, userID, resource string, periodStart time.Time) error
	ListQuotas(ctx context.Context, userID string, periodStart time.Time) ([]models.UsageQuota, error)
}

// QuotaService meters AI usage per user in daily UTC periods.
type QuotaService struct {
	store  QuotaStore
	logger *zap.Logger
	now    func() time.Time
}

func NewQuotaService(s QuotaStore, logger *zap.Logger) *QuotaService {
	return &QuotaService{store: s, logger: logger, now: time.Now}
}

// Period returns the UTC day containing t.
func Period(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Limits resolves the user's effective plan and per-resource limits.
func (q *QuotaService) Limits(ctx context.Context, userID string) (string, map[string]int, error) {
	limits := make(map[string]int, len(FreeLimits))
	for k, v := range FreeLimits {
		limits[k] = v
	}

	sub, err := q.store.GetSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !sub.Entitled(q.now())) {
		return PlanFree, limits, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load subscription: %w", err)
	}

	plan, err := q.store.GetPlan(ctx, sub.PlanID)
	if errors.Is(err, store.ErrNotFound) {
		q.logger.Warn("subscription references unknown plan", zap.String("user_id", userID), zap.String("plan_id", sub.PlanID))
		return PlanFree, limits, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load plan: %w", err)
	}

	var planLimits map[string]int
	if len(plan.Limits) > 0 {
		if err := plan.Limits.Unmarshal(&planLimits); err != nil {
			return "", nil, fmt.Errorf("plan %s limits: %w", plan.ID, err)
		}
	}
	for k, v := range planLimits {
		limits[k] = v
	}
	return plan.ID, limits, nil
}

// Consume takes one unit of resource. On ErrQuotaExceeded the returned quota
// describes the exhausted allowance.
func (q *QuotaService) Consume(ctx context.Context, userID, resource string) (models.UsageQuota, error) {
	_, limits, err := q.Limits(ctx, userID)
	if err != nil {
		return models.UsageQuota{}, err
	}
	start, end := Period(q.now())
	limit := limits[resource]
	exhausted := models.UsageQuota{
		UserID: userID, ResourceType: resource, PeriodStart: start, PeriodEnd: end, Used: limit, Limit: limit,
	}
	if limit <= 0 {
		return exhausted, ErrQuotaExceeded
	}

	quota, err := q.store.ConsumeQuota(ctx, userID, resource, start, end, limit)
	if errors.Is(err, store.ErrQuotaExceeded) {
		return exhausted, ErrQuotaExceeded
	}
	return quota, err
}

// Release returns a unit taken by Consume in the current period.
func (q *QuotaService) Release(ctx context.Context, userID, resource string) {
	start, _ := Period(q.now())
	if err := q.store.ReleaseQuota(ctx, userID, resource, start); err != nil {
		q.logger.Warn("release quota failed", zap.String("user_id", userID), zap.String("resource", resource), zap.Error(err))
	}
}

type Usage struct {
	Plan   string              `json:"plan"`
	Quotas []models.UsageQuota `json:"quotas"`
}

// Usage reports every resource type for the current period, including the
// ones not used yet.
func (q *QuotaService) Usage(ctx context.Context, userID string) (Usage, error) {
	planID, limits, err := q.Limits(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	start, end := Period(q.now())
	rows, err := q.store.ListQuotas(ctx, userID, start)
	if err != nil {
		return Usage{}, err
	}

	used := make(map[string]int, len(rows))
	for _, r := range rows {
		used[r.ResourceType] = r.Used
	}

	out := Usage{Plan: planID, Quotas: make([]models.UsageQuota, 0, len(models.ResourceTypes))}
	for _, rt := range models.ResourceTypes {
		out.Quotas = append(out.Quotas, models.UsageQuota{
			UserID:       userID,
			ResourceType: rt,
			PeriodStart:  start,
			PeriodEnd:    end,
			Used:         used[rt],
			Limit:        limits[rt],
		})
	}
	return out, nil
}
