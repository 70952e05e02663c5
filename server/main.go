package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/zhaobenny/gasometer/internal/store"
	"github.com/zhaobenny/gasometer/server/internal/auth"
	"github.com/zhaobenny/gasometer/server/internal/broadcast"
	"github.com/zhaobenny/gasometer/server/internal/config"
	"github.com/zhaobenny/gasometer/server/internal/handlers"
	"github.com/zhaobenny/gasometer/server/internal/ingest"
	"github.com/zhaobenny/gasometer/server/internal/logger"
	"github.com/zhaobenny/gasometer/server/internal/middleware"
	"github.com/zhaobenny/gasometer/server/internal/query"
	"github.com/zhaobenny/gasometer/server/internal/stats"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "", "path to gasometer.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gasometer-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open store
	db, err := store.Open(ctx, store.Config{
		Driver:  cfg.Store.Driver,
		Path:    cfg.Store.Path,
		DSN:     cfg.Store.DSN,
		PageCap: cfg.Store.PageSize,
	}, log)
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		log.Warn("no store configured; ingest and queries will fail until one is set", zap.Error(err))
	case err != nil:
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()
	db = store.WithTimeout(db, cfg.Store.Timeout)

	// Live feed
	mux := http.NewServeMux()
	hub := broadcast.NewHub(
		broadcast.WithPath(cfg.Broadcast.Path),
		broadcast.WithKeepAlive(cfg.Broadcast.Keepalive),
		broadcast.WithSendBuffer(cfg.Broadcast.SendBuffer),
		broadcast.WithLogger(log),
	)
	hub.Initialize(mux)
	defer hub.Close()

	var publisher ingest.Publisher = hub
	if cfg.Redis.URL != "" {
		client, err := broadcast.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("redis unavailable, broadcasting to local subscribers only", zap.Error(err))
		} else {
			defer client.Close()
			relay := broadcast.NewRedisRelay(client, cfg.Redis.Channel, hub, log)
			go relay.Run(ctx)
			publisher = relay
		}
	}

	verifier := auth.NewVerifier(cfg.Auth.APIKey)
	if verifier.Open() {
		log.Warn("no API key configured, ingest is open to anyone")
	}

	h := handlers.New(db,
		ingest.NewGateway(db, publisher, verifier, log),
		query.NewService(db),
		stats.NewEngine(db, stats.WithPageSize(cfg.Store.PageSize), stats.WithLogger(log)),
		log,
	)

	var ingestLimit func(http.Handler) http.Handler
	if cfg.RateLimit.IngestRPS > 0 {
		ingestLimit = middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.IngestRPS), cfg.RateLimit.IngestBurst).Limit
	}
	h.Routes(mux, ingestLimit)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: middleware.Chain(mux,
			middleware.SecurityHeaders,
			middleware.RequestID,
			middleware.Logging(log),
			middleware.Metrics,
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting gasometer-server",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("live_path", cfg.Broadcast.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}
