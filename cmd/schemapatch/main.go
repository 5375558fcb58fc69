// Command schemapatch runs the guarded schema remediation steps against
// DATABASE_URL and prints the outcome of each one.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"toeicprep/config"
	"toeicprep/db"
	"toeicprep/logging"
	"toeicprep/schemapatch"
	"toeicprep/services"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens before exit.
func run() int {
	ledger := flag.Bool("ledger", false, "print the patch ledger and exit")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.LoadMaintenance()
	if err != nil {
		log.Print("Failed to load config: ", err)
		return 2
	}
	logger, err := logging.New(cfg.Logs.Level, "console")
	if err != nil {
		log.Print("Failed to build logger: ", err)
		return 2
	}
	defer logger.Sync()

	conn, err := db.InitDB(cfg.DB)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return 2
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner := schemapatch.NewRunner(conn, logger, services.NewSlackNotifier(cfg.Ops.SlackWebhookURL, logger))

	if *ledger {
		entries, err := runner.Ledger(ctx)
		if err != nil {
			logger.Error("failed to read ledger", zap.Error(err))
			return 2
		}
		printLedger(os.Stdout, entries)
		return 0
	}

	results, err := runner.Run(ctx, schemapatch.Remediation())
	if err != nil {
		logger.Error("schema patch run failed", zap.Error(err))
		return 2
	}
	if printResults(os.Stdout, results) > 0 {
		return 1
	}
	return 0
}

func printLedger(w io.Writer, entries []schemapatch.LedgerEntry) {
	for _, e := range entries {
		first := "never"
		if e.FirstAppliedAt != nil {
			first = e.FirstAppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-30s runs=%d steps_applied=%d last_failed=%d first_applied=%s last_run=%s\n",
			e.Name, e.Runs, e.StepsApplied, e.LastFailed, first, e.LastRunAt.Format(time.RFC3339))
	}
}

// printResults writes one line per patch and step and returns the number of
// failed steps.
func printResults(w io.Writer, results []schemapatch.Result) int {
	failed := 0
	for _, r := range results {
		fmt.Fprintf(w, "%s: applied=%d skipped=%d failed=%d\n", r.Patch, r.Applied, r.Skipped, r.Failed)
		for _, s := range r.Steps {
			if s.Error != "" {
				fmt.Fprintf(w, "  %s %s: %s\n", s.Status, s.Step, s.Error)
				continue
			}
			fmt.Fprintf(w, "  %s %s\n", s.Status, s.Step)
		}
		failed += r.Failed
	}
	return failed
}
