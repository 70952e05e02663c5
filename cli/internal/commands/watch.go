package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/cli/internal/config"
	"github.com/zhaobenny/gasometer/cli/internal/output"
	"github.com/zhaobenny/gasometer/cli/internal/sync"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/internal/parser"
	"github.com/zhaobenny/gasometer/internal/pricing"
	"go.uber.org/zap"
)

// watchService implements service.Interface for background syncing
type watchService struct {
	interval time.Duration
	idle     time.Duration
	dir      string
	prices   sync.Pricer
	logger   *zap.Logger
	svcLog   service.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func (w *watchService) Start(svc service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

func (w *watchService) Stop(svc service.Service) error {
	w.cancel()
	select {
	case <-w.done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

func (w *watchService) run(ctx context.Context) {
	defer close(w.done)

	// Sync immediately on start
	w.cycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *watchService) cycle(ctx context.Context) {
	report, err := watchCycle(ctx, time.Now(), w.dir, w.idle, w.prices, w.logger)
	if err != nil {
		if w.svcLog != nil {
			w.svcLog.Errorf("Sync failed: %v", err)
		}
		return
	}
	if w.svcLog != nil && report.Files > 0 {
		w.svcLog.Infof("Synced %d transcripts (%d failed)", report.Sent, report.Failed)
	}
}

// watchCycle posts every transcript that changed since the last successful
// cycle and has been idle for at least idle. The sync mark moves to the idle
// cutoff, so sessions still being written are picked up by a later cycle
// once they finish. The mark only moves when nothing failed, so failures are
// retried next time.
func watchCycle(ctx context.Context, now time.Time, dir string, idle time.Duration, prices sync.Pricer, logger *zap.Logger) (sync.Report, error) {
	client, cfg, err := serverClient()
	if err != nil {
		return sync.Report{}, err
	}

	var since time.Time
	if cfg.LastSyncAt != nil {
		since = *cfg.LastSyncAt
	}
	cutoff := now.Add(-idle).UTC()

	paths, err := parser.FindTranscripts(dir, since)
	if err != nil {
		return sync.Report{}, err
	}
	if len(paths) == 0 {
		return sync.Report{}, nil
	}

	report, err := sync.SyncTranscripts(ctx, client, prices, paths, sync.TranscriptOptions{
		ActiveAfter: cutoff,
		OnEvent: func(name string, _ model.CostEvent, err error) {
			if err != nil {
				logger.Warn("transcript post failed", zap.String("file", name), zap.Error(err))
			}
		},
	})
	if err != nil {
		return report, err
	}
	if report.Failed > 0 || !cutoff.After(since) {
		return report, nil
	}

	path, err := config.Path()
	if err != nil {
		return report, err
	}
	onDisk, err := config.LoadFile(path)
	if err != nil {
		return report, err
	}
	onDisk.LastSyncAt = &cutoff
	return report, config.SaveFile(path, onDisk)
}

func newWatchCmd(logger func() *zap.Logger) *cobra.Command {
	var (
		interval time.Duration
		idle     time.Duration
		dir      string
		offline  bool
	)

	cmd := &cobra.Command{
		Use:       "watch [install|start|stop|uninstall|status|run]",
		Short:     "Post new transcripts periodically as a background service",
		ValidArgs: []string{"install", "start", "stop", "uninstall", "status", "run"},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		Example: `  gasometer watch                   Sync once
  gasometer watch install           Install service (syncs every hour)
  gasometer watch install --interval 30m
  gasometer watch status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			log := logger()
			defer log.Sync()

			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			if idle < 0 {
				return fmt.Errorf("--idle must not be negative")
			}
			if dir == "" {
				var err error
				if dir, err = parser.DefaultProjectsDir(); err != nil {
					return err
				}
			}

			w := &watchService{
				interval: interval,
				idle:     idle,
				dir:      dir,
				prices:   pricing.NewCatalog(pricing.WithOffline(offline), pricing.WithLogger(log)),
				logger:   log,
			}

			svcArgs := []string{"watch", "run", "--interval=" + interval.String(), "--idle=" + idle.String(), "--dir=" + dir}
			if offline {
				svcArgs = append(svcArgs, "--offline")
			}
			svcConfig := &service.Config{
				Name:        "gasometer-watch",
				DisplayName: "gasometer Watch Service",
				Description: "Posts Claude Code transcript costs to a gasometer server",
				Arguments:   svcArgs,
				Option:      service.KeyValue{"UserService": true},
			}
			if path, err := config.Path(); err == nil {
				svcConfig.EnvVars = map[string]string{"GASOMETER_CONFIG": path}
			}

			if len(args) == 0 {
				return watchOnce(cmd.Context(), out, w)
			}

			s, err := service.New(w, svcConfig)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			return runWatchAction(out, s, w, args[0], interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "Sync interval for service mode (e.g., 1h, 30m)")
	cmd.Flags().DurationVar(&idle, "idle", sync.DefaultIdle, "Only post transcripts unmodified for this long (finished sessions)")
	cmd.Flags().StringVar(&dir, "dir", "", "Claude projects directory (default ~/.claude/projects)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use embedded pricing data (no network)")
	return cmd
}

func runWatchAction(out io.Writer, s service.Service, w *watchService, action string, interval time.Duration) error {
	switch action {
	case "install":
		if _, _, err := serverClient(); err != nil {
			return err
		}
		if err := s.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("service installed but failed to start: %w", err)
		}
		fmt.Fprintln(out, "Service installed and started.")
		fmt.Fprintf(out, "Sync interval: %s\n", interval)

	case "start":
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		fmt.Fprintln(out, "Service started.")

	case "stop":
		if err := s.Stop(); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
		fmt.Fprintln(out, "Service stopped.")

	case "uninstall":
		s.Stop() // may already be stopped
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		fmt.Fprintln(out, "Service uninstalled.")

	case "status":
		status, err := s.Status()
		switch {
		case err != nil:
			fmt.Fprintf(out, "Service status: not installed or error (%v)\n", err)
		case status == service.StatusRunning:
			fmt.Fprintln(out, "Service status: running")
		case status == service.StatusStopped:
			fmt.Fprintln(out, "Service status: stopped")
		default:
			fmt.Fprintln(out, "Service status: unknown")
		}

	case "run":
		if svcLog, err := s.Logger(nil); err == nil {
			w.svcLog = svcLog
		}
		return s.Run()
	}
	return nil
}

func watchOnce(ctx context.Context, out io.Writer, w *watchService) error {
	report, err := watchCycle(ctx, time.Now(), w.dir, w.idle, w.prices, w.logger)
	if err != nil {
		return err
	}
	if report.Files == 0 {
		fmt.Fprintln(out, "No new transcripts to sync.")
		return nil
	}
	fmt.Fprintf(out, "Sync complete. %d posted (%s), %d skipped, %d still active, %d failed.\n",
		report.Sent, output.FormatCost(report.TotalUSD), report.Skipped, report.Active, report.Failed)
	return nil
}
