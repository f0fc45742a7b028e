// consumer records draft lifecycle events from Kafka in the draft_event_log
// audit table.
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
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/worklog/internal/config"
	"example.com/worklog/internal/consumer"
	"example.com/worklog/internal/logging"
	"example.com/worklog/internal/telemetry"
	httptransport "example.com/worklog/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("consumer exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "worklog-consumer"))
	slog.SetDefault(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.DefaultConfig(cfg.ServiceName+"-consumer", cfg.OTLPEndpoint))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	audit := consumer.NewAuditHandler(pool, logger.With(slog.String("component", "audit")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httptransport.Run(gctx, httptransport.NewMetricsServer(cfg.MetricsAddress), logger)
	})
	for _, topic := range cfg.KafkaDraftTopics {
		g.Go(func() error { return consumeTopic(gctx, cfg, topic, audit, logger) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("consumer stopped")
		return nil
	}
	return err
}

func consumeTopic(ctx context.Context, cfg config.Config, topic string, handler consumer.Handler, logger *slog.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.KafkaConsumerGroup,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	defer reader.Close()

	log := logger.With(slog.String("topic", topic), slog.String("group", cfg.KafkaConsumerGroup))
	log.Info("audit consumer started")
	return consumer.NewProcessor(reader, handler, consumer.WithLogger(log)).Run(ctx)
}
