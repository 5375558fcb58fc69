package schemapatch

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Remediation is the set of repairs for databases created before the
// versioned migrations, or left behind by a half-applied one.
func Remediation() []Patch {
	return []Patch{
		{
			Name: "users_missing_columns",
			Steps: []Step{
				AddColumn("users", "is_verified", "BOOLEAN NOT NULL DEFAULT FALSE"),
				AddColumn("users", "is_active", "BOOLEAN NOT NULL DEFAULT TRUE"),
				AddColumn("users", "last_login_at", "TIMESTAMPTZ"),
				AddColumn("users", "google_id", "TEXT"),
				AddColumn("users", "stripe_customer_id", "TEXT"),
				CreateIndex("users_google_id_key",
					"CREATE UNIQUE INDEX IF NOT EXISTS users_google_id_key ON users (google_id)"),
				CreateIndex("users_stripe_customer_id_key",
					"CREATE UNIQUE INDEX IF NOT EXISTS users_stripe_customer_id_key ON users (stripe_customer_id)"),
			},
		},
		{
			Name: "billing_not_null",
			Steps: []Step{
				SetNotNull("user_subscriptions", "status", "'canceled'"),
				SetNotNull("subscription_plans", "currency", "'usd'"),
			},
		},
		{
			Name: "usage_quotas_unique_period",
			Steps: []Step{
				AddConstraint("usage_quotas", "usage_quotas_user_resource_period_key",
					"UNIQUE (user_id, resource_type, period_start)",
					// Fold duplicate rows into the one with the highest usage first.
					`DELETE FROM usage_quotas a
					 USING usage_quotas b
					 WHERE a.user_id = b.user_id
					   AND a.resource_type = b.resource_type
					   AND a.period_start = b.period_start
					   AND (a.used, a.id) < (b.used, b.id)`,
				),
			},
		},
		{
			Name:  "migration_dirty_flag",
			Steps: []Step{ClearDirtyMigration()},
		},
	}
}

// ClearDirtyMigration resets a dirty golang-migrate version to the last
// version that completed, so the failed version is applied again by the next
// migrate run.
func ClearDirtyMigration() Step {
	step := Raw("clear dirty migration",
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE dirty)`,
		`UPDATE schema_migrations SET version = version - 1, dirty = FALSE WHERE dirty AND version > 1`,
		`DELETE FROM schema_migrations WHERE dirty`,
	)
	dirty := step.Guard
	// schema_migrations is absent before the first migrate run.
	step.Guard = func(ctx context.Context, q sqlx.QueryerContext) (bool, error) {
		ok, err := tableExists(ctx, q, "schema_migrations")
		if err != nil || !ok {
			return false, err
		}
		return dirty(ctx, q)
	}
	return step
}
