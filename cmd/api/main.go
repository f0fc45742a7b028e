package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/worklog/internal/api"
	"example.com/worklog/internal/archive"
	"example.com/worklog/internal/auth"
	"example.com/worklog/internal/config"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/lock"
	"example.com/worklog/internal/logging"
	"example.com/worklog/internal/outbox"
	"example.com/worklog/internal/persistence/postgres"
	"example.com/worklog/internal/persistence/sqlite"
	"example.com/worklog/internal/submission"
	"example.com/worklog/internal/taxonomy"
	"example.com/worklog/internal/telemetry"
	"example.com/worklog/internal/ticketing/jira"
	httptransport "example.com/worklog/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "worklog-api"))
	slog.SetDefault(logger)
	if err != nil {
		fatal(logger, "invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.DefaultConfig(cfg.ServiceName+"-api", cfg.OTLPEndpoint))
	if err != nil {
		fatal(logger, "failed to initialise tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		fatal(logger, "failed to connect to postgres", err)
	}
	defer pool.Close()

	tax, err := taxonomy.Load(cfg.TaxonomyPath)
	if err != nil {
		fatal(logger, "failed to load taxonomy", err)
	}

	locker, closeLocker := buildLocker(ctx, cfg, logger)
	defer closeLocker()

	repo := postgres.NewDraftRepository(pool)
	service := domain.NewService(repo, domain.WithTaxonomy(tax), domain.WithLocker(locker))

	submitter, closeLedger := buildSubmitter(ctx, cfg, pool, repo, locker, logger)
	defer closeLedger()

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcherOpts := []outbox.Option{outbox.WithLogger(logger.With(slog.String("component", "outbox")))}
	if cfg.SchemaRegistryURL != "" {
		dispatcherOpts = append(dispatcherOpts, outbox.WithSchemaRegistry(outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL,
			outbox.WithBasicAuth(cfg.SchemaRegistryKey, cfg.SchemaRegistrySecret))))
	}
	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, dispatcherOpts...)
	go dispatcher.Start(ctx)
	defer dispatcher.Wait()

	handler := api.NewHandler(service, submitter, api.WithLogger(logger))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Recover(logger, httptransport.Logging(logger, authMiddleware.Wrap(mux))),
	)
	if err := httptransport.Run(ctx, server, logger); err != nil {
		logger.Error("server error", slog.Any("error", err))
	}
}

// buildLocker guards submissions in-process and, when Redis is configured,
// across replicas.
func buildLocker(ctx context.Context, cfg config.Config, logger *slog.Logger) (domain.Locker, func()) {
	local := lock.NewLocal()
	if cfg.RedisAddress == "" {
		return local, func() {}
	}
	redisCfg := lock.DefaultRedisConfig(cfg.RedisAddress)
	redisCfg.Password = cfg.RedisPassword
	redisCfg.Database = cfg.RedisDB
	redisLock, err := lock.NewRedis(ctx, redisCfg, logger)
	if err != nil {
		fatal(logger, "failed to connect to redis", err)
	}
	logger.Info("distributed submission lock enabled", slog.String("redis", cfg.RedisAddress))
	return lock.Chain{local, redisLock}, func() { _ = redisLock.Close() }
}

// buildSubmitter returns nil when no ticketing system is configured; the API
// then answers submit requests with 503.
func buildSubmitter(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, repo domain.DraftRepository, locker domain.Locker, logger *slog.Logger) (api.Submitter, func()) {
	if cfg.JiraBaseURL == "" {
		logger.Warn("JIRA_BASE_URL not set, submission disabled")
		return nil, func() {}
	}
	client, err := jira.NewClient(jira.Config{
		BaseURL:  cfg.JiraBaseURL,
		Email:    cfg.JiraEmail,
		APIToken: cfg.JiraAPIToken,
	}, logger)
	if err != nil {
		fatal(logger, "failed to configure jira client", err)
	}

	var (
		ledger      domain.Ledger
		closeLedger = func() {}
	)
	switch cfg.LedgerBackend {
	case config.LedgerSQLite:
		local, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			fatal(logger, "failed to open sqlite ledger", err)
		}
		ledger = local
		closeLedger = func() { _ = local.Close() }
	default:
		ledger = postgres.NewLedger(pool)
	}

	opts := []submission.Option{
		submission.WithLogger(logger.With(slog.String("component", "submission"))),
		submission.WithLocker(locker),
		submission.WithMinDuration(cfg.SubmitMinDuration),
	}
	if cfg.ArchiveBucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, archive.S3Config{
			Bucket: cfg.ArchiveBucket,
			Prefix: cfg.ArchivePrefix,
			Region: cfg.ArchiveRegion,
		})
		if err != nil {
			fatal(logger, "failed to configure archive", err)
		}
		opts = append(opts, submission.WithArchiver(archiver))
	}
	return submission.NewEngine(repo, ledger, client, opts...), closeLedger
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
