package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/cli/internal/output"
	"github.com/zhaobenny/gasometer/cli/internal/sync"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/parser"
	"github.com/zhaobenny/gasometer/internal/pricing"
	"github.com/zhaobenny/gasometer/internal/store"
	"go.uber.org/zap"
)

func newBackfillCmd(logger func() *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Load historical cost events",
	}
	cmd.AddCommand(newBackfillCostsCmd(logger), newBackfillTranscriptsCmd(logger))
	return cmd
}

func defaultCostsFile() string {
	if p := os.Getenv("COSTS_FILE"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gt", "costs.jsonl")
}

func newBackfillCostsCmd(logger func() *zap.Logger) *cobra.Command {
	var (
		file   string
		driver string
		dbPath string
		dsn    string
	)

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Upsert a costs.jsonl file straight into the store",
		Example: `  gasometer backfill costs --db ./gasometer.db
  gasometer backfill costs --file costs.jsonl --dsn postgres://localhost/gasometer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			log := logger()
			defer log.Sync()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			events, bad, err := parser.ParseCostsFile(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			for _, lerr := range bad {
				log.Warn("skipping invalid line", zap.String("file", file), zap.Error(lerr))
			}
			sync.InferRigs(events)
			fmt.Fprintf(out, "Found %d cost records to backfill\n", len(events)+len(bad))

			s, err := store.Open(ctx, store.Config{Driver: driver, Path: dbPath, DSN: dsn}, log)
			if errors.Is(err, store.ErrNotConfigured) {
				return fmt.Errorf("set --db or --dsn: %w", err)
			}
			if err != nil {
				return err
			}
			defer s.Close()

			report := sync.BackfillCosts(ctx, s, events,
				func(done, total int) { fmt.Fprintf(out, "  Progress: %d/%d\n", done, total) },
				func(batch int, err error) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Batch %d error: %v\n", batch, err)
				},
			)
			fmt.Fprintf(out, "Backfill complete: %d inserted, %d errors\n", report.Inserted, report.Errors+len(bad))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", defaultCostsFile(), "Costs JSONL file")
	cmd.Flags().StringVar(&driver, "driver", "", "Store driver: sqlite or postgres (inferred from --db/--dsn)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN")
	return cmd
}

func newBackfillTranscriptsCmd(logger func() *zap.Logger) *cobra.Command {
	var (
		dir     string
		since   string
		workers int
		idle    time.Duration
		dryRun  bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Price Claude Code transcripts and post one event per session",
		Example: `  gasometer backfill transcripts --dry-run
  gasometer backfill transcripts --since 2026-02-01 --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			log := logger()
			defer log.Sync()

			sinceTime, err := parseDate("since", since)
			if err != nil {
				return err
			}
			if dir == "" {
				if dir, err = parser.DefaultProjectsDir(); err != nil {
					return err
				}
			}

			var ing sync.Ingester
			if !dryRun {
				client, _, err := serverClient()
				if err != nil {
					return err
				}
				ing = client
			}

			var from time.Time
			if sinceTime != nil {
				from = *sinceTime
			}
			paths, err := parser.FindTranscripts(dir, from)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Found %d transcript files in %s\n", len(paths), dir)

			catalog := pricing.NewCatalog(pricing.WithOffline(offline), pricing.WithLogger(log))
			var activeAfter time.Time
			if idle > 0 {
				activeAfter = time.Now().Add(-idle)
			}
			report, err := sync.SyncTranscripts(ctx, ing, catalog, paths, sync.TranscriptOptions{
				Workers:     workers,
				DryRun:      dryRun,
				ActiveAfter: activeAfter,
				OnEvent: func(name string, ev model.CostEvent, err error) {
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %s: %v\n", name, err)
						return
					}
					fmt.Fprintf(out, "  ✓ %s %s %s\n", ev.SessionID, ev.Role, output.FormatCost(ev.CostUSD))
				},
			})
			if err != nil {
				return err
			}

			verb := "posted"
			if dryRun {
				verb = "would post"
			}
			fmt.Fprintf(out, "Done: %d %s (%s), %d skipped, %d still active, %d failed\n",
				report.Sent, verb, output.FormatCost(report.TotalUSD), report.Skipped, report.Active, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d transcripts failed to post", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Claude projects directory (default ~/.claude/projects)")
	cmd.Flags().StringVar(&since, "since", "", "Only transcripts modified after this date")
	cmd.Flags().IntVarP(&workers, "workers", "w", sync.DefaultWorkers, "Concurrent uploads")
	cmd.Flags().DurationVar(&idle, "idle", sync.DefaultIdle, "Skip transcripts modified within this window (0 posts everything)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and price without posting")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use embedded pricing data (no network)")
	return cmd
}
