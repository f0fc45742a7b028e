// dlqmanager replays draft events parked in outbox_dlq.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"example.com/worklog/internal/config"
	"example.com/worklog/internal/logging"
	"example.com/worklog/internal/outbox"
	httptransport "example.com/worklog/internal/transport/http"
)

const replayBatchSize = 50

func main() {
	if err := run(); err != nil {
		slog.Error("dlq manager exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "worklog-dlqmanager"))
	slog.SetDefault(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Run(gctx, httptransport.NewMetricsServer(cfg.MetricsAddress), logger)
	})
	g.Go(func() error {
		logger.Info("dlq replay loop started",
			slog.Duration("interval", cfg.DLQPollInterval),
			slog.Int("max_retries", cfg.DLQMaxRetries))
		return replayLoop(gctx, manager, cfg.DLQPollInterval, logger)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("dlq manager stopped")
		return nil
	}
	return err
}

// replayLoop runs one replay pass per interval. Pass errors are logged, not fatal.
func replayLoop(ctx context.Context, manager *outbox.DLQManager, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		handled, err := manager.RunOnce(ctx, replayBatchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dlq replay pass failed", slog.Int("handled", handled), slog.Any("error", err))
			continue
		}
		if handled > 0 {
			logger.Info("dlq replay pass", slog.Int("handled", handled))
		}
	}
}
