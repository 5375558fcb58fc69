package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"toeicprep/models"
)

var ErrQuotaExceeded = errors.New("quota exceeded")

const quotaColumns = `id, user_id, resource_type, period_start, period_end, used, quota_limit`

// ConsumeQuota takes one unit of resource for the period starting at
// periodStart. The increment and the limit check are a single statement, so
// concurrent callers can never push used past limit.
func (s *Store) ConsumeQuota(ctx context.Context, userID, resource string, periodStart, periodEnd time.Time, limit int) (models.UsageQuota, error) {
	var q models.UsageQuota
	err := s.db.GetContext(ctx, &q, `
		INSERT INTO usage_quotas (user_id, resource_type, period_start, period_end, used, quota_limit)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (user_id, resource_type, period_start) DO UPDATE
		SET used = usage_quotas.used + 1,
		    quota_limit = EXCLUDED.quota_limit,
		    updated_at = NOW()
		WHERE usage_quotas.used < EXCLUDED.quota_limit
		RETURNING `+quotaColumns,
		userID, resource, periodStart, periodEnd, limit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageQuota{}, ErrQuotaExceeded
	}
	if err != nil {
		return models.UsageQuota{}, fmt.Errorf("consume quota: %w", err)
	}
	return q, nil
}

// ReleaseQuota hands back a unit taken by ConsumeQuota when the work it
// paid for did not happen.
func (s *Store) ReleaseQuota(ctx context.Context, userID, resource string, periodStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_quotas SET used = used - 1, updated_at = NOW()
		WHERE user_id = $1 AND resource_type = $2 AND period_start = $3 AND used > 0`,
		userID, resource, periodStart,
	)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

func (s *Store) ListQuotas(ctx context.Context, userID string, periodStart time.Time) ([]models.UsageQuota, error) {
	quotas := []models.UsageQuota{}
	err := s.db.SelectContext(ctx, &quotas, `
		SELECT `+quotaColumns+`
		FROM usage_quotas
		WHERE user_id = $1 AND period_start = $2
		ORDER BY resource_type`,
		userID, periodStart,
	)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	return quotas, nil
}
