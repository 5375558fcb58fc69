package schemapatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// The ledger keeps one row per patch. steps_applied accumulates across
// runs; last_failed is the failed step count of the most recent run.
const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_patches (
    name             TEXT PRIMARY KEY,
    first_applied_at TIMESTAMPTZ,
    last_run_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    runs             INTEGER NOT NULL DEFAULT 0,
    steps_applied    INTEGER NOT NULL DEFAULT 0,
    last_failed      INTEGER NOT NULL DEFAULT 0
)`

const recordRun = `
INSERT INTO schema_patches (name, first_applied_at, last_run_at, runs, steps_applied, last_failed)
VALUES ($1, CASE WHEN $2 > 0 THEN NOW() END, NOW(), 1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET first_applied_at = COALESCE(schema_patches.first_applied_at, EXCLUDED.first_applied_at),
    last_run_at = NOW(),
    runs = schema_patches.runs + 1,
    steps_applied = schema_patches.steps_applied + EXCLUDED.steps_applied,
    last_failed = EXCLUDED.last_failed`

// Alerter receives a summary when a run has failed steps.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type StepResult struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

type Result struct {
	Patch   string       `json:"patch"`
	Applied int          `json:"applied"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Steps   []StepResult `json:"steps"`
}

type LedgerEntry struct {
	Name           string     `json:"name" db:"name"`
	FirstAppliedAt *time.Time `json:"first_applied_at,omitempty" db:"first_applied_at"`
	LastRunAt      time.Time  `json:"last_run_at" db:"last_run_at"`
	Runs           int        `json:"runs" db:"runs"`
	StepsApplied   int        `json:"steps_applied" db:"steps_applied"`
	LastFailed     int        `json:"last_failed" db:"last_failed"`
}

type Runner struct {
	db      *sqlx.DB
	logger  *zap.Logger
	alerter Alerter
}

func NewRunner(db *sqlx.DB, logger *zap.Logger, alerter Alerter) *Runner {
	return &Runner{db: db, logger: logger, alerter: alerter}
}

// Run applies every patch in order. A failing step is logged and counted
// and the run moves on to the next step; the returned error only reports
// that the ledger itself could not be created.
func (r *Runner) Run(ctx context.Context, patches []Patch) ([]Result, error) {
	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("create patch ledger: %w", err)
	}

	results := make([]Result, 0, len(patches))
	var failures []string
	for _, p := range patches {
		res := r.runPatch(ctx, p)
		results = append(results, res)

		if _, err := r.db.ExecContext(ctx, recordRun, p.Name, res.Applied, res.Failed); err != nil {
			r.logger.Error("record patch failed", zap.String("patch", p.Name), zap.Error(err))
		}

		for _, s := range res.Steps {
			if s.Status == StatusFailed {
				failures = append(failures, fmt.Sprintf("%s / %s: %s", p.Name, s.Step, s.Error))
			}
		}
	}

	if len(failures) > 0 && r.alerter != nil {
		text := "Schema patch run finished with failed steps:\n" + strings.Join(failures, "\n")
		if err := r.alerter.Alert(ctx, text); err != nil {
			r.logger.Warn("patch alert failed", zap.Error(err))
		}
	}
	return results, nil
}

func (r *Runner) runPatch(ctx context.Context, p Patch) Result {
	res := Result{Patch: p.Name, Steps: make([]StepResult, 0, len(p.Steps))}
	log := r.logger.With(zap.String("patch", p.Name))

	for _, step := range p.Steps {
		sr := StepResult{Step: step.Name}

		needed := true
		var err error
		if step.Guard != nil {
			needed, err = step.Guard(ctx, r.db)
		}
		switch {
		case err != nil:
			sr.Status, sr.Error = StatusFailed, err.Error()
			res.Failed++
			log.Error("patch guard failed", zap.String("step", step.Name), zap.Error(err))
		case !needed:
			sr.Status = StatusSkipped
			res.Skipped++
			log.Debug("patch step not needed", zap.String("step", step.Name))
		default:
			if err := r.apply(ctx, step); err != nil {
				sr.Status, sr.Error = StatusFailed, err.Error()
				res.Failed++
				log.Error("patch step failed", zap.String("step", step.Name), zap.Error(err))
			} else {
				sr.Status = StatusApplied
				res.Applied++
				log.Info("patch step applied", zap.String("step", step.Name))
			}
		}
		res.Steps = append(res.Steps, sr)
	}
	return res
}

func (r *Runner) apply(ctx context.Context, step Step) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range step.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Ledger lists recorded patches, most recently run first. A database that has
// never been patched has no ledger table and yields an empty list.
func (r *Runner) Ledger(ctx context.Context) ([]LedgerEntry, error) {
	ok, err := tableExists(ctx, r.db, "schema_patches")
	if err != nil {
		return nil, err
	}
	entries := []LedgerEntry{}
	if !ok {
		return entries, nil
	}
	err = r.db.SelectContext(ctx, &entries, `
		SELECT name, first_applied_at, last_run_at, runs, steps_applied, last_failed
		FROM schema_patches
		ORDER BY last_run_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	return entries, nil
}
