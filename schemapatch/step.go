// Package schemapatch repairs databases that drifted from the versioned
// migrations. Every step checks the live catalog first and only runs when
// the repair is still needed, so a patch can be re-run safely.
package schemapatch

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Guard reports whether a step still needs to run.
type Guard func(ctx context.Context, q sqlx.QueryerContext) (bool, error)

type Step struct {
	Name       string
	Guard      Guard
	Statements []string
}

type Patch struct {
	Name  string
	Steps []Step
}

func exists(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (bool, error) {
	var ok bool
	if err := sqlx.GetContext(ctx, q, &ok, query, args...); err != nil {
		return false, err
	}
	return ok, nil
}

func columnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	return exists(ctx, q, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column)
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, table string) (bool, error) {
	return exists(ctx, q, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table)
}

// AddColumn adds table.column with the given type and modifiers when the
// column is missing.
func AddColumn(table, column, definition string) Step {
	return Step{
		Name: fmt.Sprintf("add column %s.%s", table, column),
		Guard: func(ctx context.Context, q sqlx.QueryerContext) (bool, error) {
			ok, err := columnExists(ctx, q, table, column)
			return !ok, err
		},
		Statements: []string{
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				pq.QuoteIdentifier(table), pq.QuoteIdentifier(column), definition),
		},
	}
}

// SetNotNull backfills NULLs with fill, makes fill the default and then
// adds the NOT NULL constraint.
func SetNotNull(table, column, fill string) Step {
	t, c := pq.QuoteIdentifier(table), pq.QuoteIdentifier(column)
	return Step{
		Name: fmt.Sprintf("set not null %s.%s", table, column),
		Guard: func(ctx context.Context, q sqlx.QueryerContext) (bool, error) {
			return exists(ctx, q, `
				SELECT EXISTS (
					SELECT 1 FROM information_schema.columns
					WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
					  AND is_nullable = 'YES'
				)`, table, column)
		},
		Statements: []string{
			fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", t, c, fill, c),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", t, c, fill),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", t, c),
		},
	}
}

// AddConstraint adds a named table constraint when it is missing. Extra
// statements run first, inside the same transaction.
func AddConstraint(table, name, definition string, before ...string) Step {
	stmts := append([]string{}, before...)
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(name), definition))
	return Step{
		Name: fmt.Sprintf("add constraint %s", name),
		Guard: func(ctx context.Context, q sqlx.QueryerContext) (bool, error) {
			ok, err := exists(ctx, q, `
				SELECT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = current_schema() AND table_name = $1 AND constraint_name = $2
				)`, table, name)
			return !ok, err
		},
		Statements: stmts,
	}
}

// CreateIndex runs ddl when no index called name exists.
func CreateIndex(name, ddl string) Step {
	return Step{
		Name: fmt.Sprintf("create index %s", name),
		Guard: func(ctx context.Context, q sqlx.QueryerContext) (bool, error) {
			ok, err := exists(ctx, q, `
				SELECT EXISTS (
					SELECT 1 FROM pg_indexes
					WHERE schemaname = current_schema() AND indexname = $1
				)`, name)
			return !ok, err
		},
		Statements: []string{ddl},
	}
}

// Raw runs statements when the guard query returns true.
func Raw(name, guardQuery string, statements ...string) Step {
	return Step{
		Name: name,
		Guard: func(ctx context.Context, q sqlx.QueryerContext) (bool, error) {
			return exists(ctx, q, guardQuery)
		},
		Statements: statements,
	}
}
