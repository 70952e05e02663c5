package sync

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/parser"
	"github.com/zhaobenny/gasometer/internal/pricing"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is how many transcripts are parsed and posted at once
const DefaultWorkers = 8

// DefaultIdle is how long a transcript must go unmodified before its
// session counts as finished
const DefaultIdle = 15 * time.Minute

// Ingester posts one cost event
type Ingester interface {
	Ingest(ctx context.Context, ev model.CostEvent) error
}

// Pricer resolves model pricing
type Pricer interface {
	Lookup(ctx context.Context, modelName string) model.ModelPricing
}

// TranscriptOptions controls SyncTranscripts
type TranscriptOptions struct {
	Workers int
	DryRun  bool
	// ActiveAfter marks transcripts modified after it as sessions still in
	// progress. They are counted in Report.Active and not posted, since their
	// totals would change. Zero treats every file as finished.
	ActiveAfter time.Time
	// OnEvent is called once per transcript that produced an event, with the
	// post error if any. Calls are serialized.
	OnEvent func(path string, ev model.CostEvent, err error)
}

// Report totals one transcript run
type Report struct {
	Files    int
	Sent     int
	Skipped  int // no token usage or unreadable
	Active   int // modified after ActiveAfter
	Failed   int
	TotalUSD float64
	Latest   time.Time // latest ended_at seen
}

// SyncTranscripts builds one cost event per finished transcript file and
// posts each to the server, opts.Workers at a time. Per-file failures are counted, not
// returned; the error is only set when ctx ends the run early.
func SyncTranscripts(ctx context.Context, ing Ingester, prices Pricer, paths []string, opts TranscriptOptions) (Report, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		mu     gosync.Mutex
		report = Report{Files: len(paths)}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := os.Stat(path)
			if err != nil {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			if !opts.ActiveAfter.IsZero() && info.ModTime().After(opts.ActiveAfter) {
				mu.Lock()
				report.Active++
				mu.Unlock()
				return nil
			}

			usage, ok, err := parser.ParseTranscript(path)
			if err != nil || !ok {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}

			cost := pricing.CalculateCost(usage.Usage, prices.Lookup(ctx, usage.Model))
			ev := parser.TranscriptEvent(usage, cost)

			var postErr error
			if !opts.DryRun {
				postErr = ing.Ingest(ctx, ev)
			}

			mu.Lock()
			defer mu.Unlock()
			if postErr != nil {
				report.Failed++
			} else {
				report.Sent++
				report.TotalUSD += cost
				if usage.EndedAt.After(report.Latest) {
					report.Latest = usage.EndedAt
				}
			}
			if opts.OnEvent != nil {
				opts.OnEvent(filepath.Base(path), ev, postErr)
			}
			return nil
		})
	}

	err := g.Wait()
	return report, err
}
