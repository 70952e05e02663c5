// Package commands implements the gasometer CLI.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/gasometer/cli/internal/config"
	"github.com/zhaobenny/gasometer/cli/internal/sync"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time
var Version = "dev"

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "gasometer",
		Short:         "Agent cost tracking client",
		Long:          "gasometer sends agent cost events to a gasometer server, backfills history and prints cost reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log debug output to stderr")

	logger := func() *zap.Logger { return newLogger(verbose) }

	root.AddCommand(
		newConfigCmd(),
		newPushCmd(),
		newBackfillCmd(logger),
		newWatchCmd(logger),
		newStatsCmd(),
		newKeygenCmd(),
	)

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("gasometer %s\n", Version))

	return root
}

// Execute is the main entry point called from main.go
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// serverClient loads the config and returns a client for it
func serverClient() (*sync.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Configured() {
		return nil, nil, config.ErrNotConfigured
	}
	return sync.NewClient(cfg), cfg, nil
}

// parseDate accepts YYYY-MM-DD (midnight UTC) or an RFC 3339 timestamp
func parseDate(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: use YYYY-MM-DD or RFC 3339", flag, v)
	}
	return &t, nil
}
