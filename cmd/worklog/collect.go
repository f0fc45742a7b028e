package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"example.com/worklog/internal/categorize"
	"example.com/worklog/internal/config"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/logging"
	"example.com/worklog/internal/merge"
	"example.com/worklog/internal/normalize"
	"example.com/worklog/internal/notify"
	"example.com/worklog/internal/persistence/postgres"
	"example.com/worklog/internal/pipeline"
	"example.com/worklog/internal/sources"
	"example.com/worklog/internal/taxonomy"
	"example.com/worklog/internal/telemetry"
)

var (
	collectDate       string
	collectUnattended bool
	collectSources    string
	collectNotify     bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect activity for a date or date range into a draft",
	Long: `Fetch every selected source for the range, merge and categorize the
activity, and persist one draft in pending_review.

Examples:
  worklog collect
  worklog collect --date 2025-05-01
  worklog collect --date 2025-05-01:2025-05-03 --sources calendar,commit
  worklog collect --unattended --notify`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringVar(&collectDate, "date", "", "Date YYYY-MM-DD or range YYYY-MM-DD:YYYY-MM-DD (default today)")
	collectCmd.Flags().BoolVar(&collectUnattended, "unattended", false, "Run without terminal output, e.g. from cron")
	collectCmd.Flags().StringVar(&collectSources, "sources", "", "Comma separated sources (default calendar,chat,commit,coding)")
	collectCmd.Flags().BoolVar(&collectNotify, "notify", false, "Send a review notification when a draft is created")
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(slog.String("service", "worklog-collect"))
	slog.SetDefault(logger)

	rng, err := resolveRange(collectDate, cfg.Location, time.Now())
	if err != nil {
		return err
	}
	wanted := cfg.DefaultSources
	if collectSources != "" {
		if wanted, err = config.ParseSources(collectSources); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.DefaultConfig(cfg.ServiceName+"-collect", cfg.OTLPEndpoint))
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	collector, closeFn, err := buildCollector(ctx, cfg, wanted, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, runErr := collector.Run(ctx, pipeline.RunInput{Range: rng, Sources: wanted, Notify: collectNotify})
	if !collectUnattended && summary != nil {
		fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
	}
	return runErr
}

// resolveRange defaults to today in loc.
func resolveRange(value string, loc *time.Location, now time.Time) (domain.DateRange, error) {
	if strings.TrimSpace(value) == "" {
		value = now.In(loc).Format("2006-01-02")
	}
	return domain.ParseDateRange(value, loc)
}

func buildCollector(ctx context.Context, cfg config.Config, wanted []domain.Source, logger *slog.Logger) (*pipeline.Collector, func(), error) {
	tax, err := taxonomy.Load(cfg.TaxonomyPath)
	if err != nil {
		return nil, nil, err
	}

	adapters, err := buildAdapters(ctx, cfg, wanted)
	if err != nil {
		return nil, nil, err
	}

	reasoner, err := categorize.NewBedrockReasoner(ctx, categorize.BedrockConfig{
		Region:    cfg.BedrockRegion,
		ModelID:   cfg.BedrockModelID,
		MaxTokens: cfg.BedrockMaxTokens,
	})
	if err != nil {
		return nil, nil, err
	}
	catCfg := categorize.DefaultConfig()
	catCfg.Concurrency = cfg.CategorizeConcurrency
	catCfg.RatePerSecond = cfg.CategorizeRate
	catCfg.MaxRetries = cfg.CategorizeMaxRetries

	notifier, err := notify.New(notify.Config{
		Method:          cfg.NotifyMethod,
		SlackWebhookURL: cfg.SlackWebhookURL,
		TeamsWebhookURL: cfg.TeamsWebhookURL,
		SMTP: notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		},
		Timeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	service := domain.NewService(postgres.NewDraftRepository(pool), domain.WithTaxonomy(tax))

	collector, err := pipeline.NewCollector(pipeline.Deps{
		Adapters:    adapters,
		Normalizer:  normalize.New(cfg.Location, normalize.WithLogger(logger)),
		Merger:      merge.NewEngine(merge.Policy{MinOverlap: cfg.MergeMinOverlap, Priority: cfg.MergeSourcePriority}, merge.WithLogger(logger)),
		Categorizer: categorize.NewEngine(reasoner, catCfg, categorize.WithLogger(logger)),
		Taxonomy:    tax,
		Service:     service,
		Notifier:    notifier,
	}, pipeline.WithLogger(logger))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return collector, pool.Close, nil
}

// buildAdapters prefers live APIs when credentials are configured and falls
// back to export files under cfg.ExportDir.
func buildAdapters(ctx context.Context, cfg config.Config, wanted []domain.Source) ([]sources.Adapter, error) {
	adapters := make([]sources.Adapter, 0, len(wanted))
	for _, src := range wanted {
		var (
			adapter sources.Adapter
			err     error
		)
		switch {
		case src == domain.SourceCalendar && cfg.GoogleCredentialsFile != "":
			adapter, err = sources.NewGoogleCalendar(ctx, sources.GoogleCalendarConfig{
				CredentialsFile: cfg.GoogleCredentialsFile,
				TokenFile:       cfg.GoogleTokenFile,
				CalendarID:      cfg.GoogleCalendarID,
			})
		case src == domain.SourceCommit && cfg.GitHubToken != "":
			adapter, err = sources.NewGitHub(sources.GitHubConfig{
				Token:        cfg.GitHubToken,
				Username:     cfg.GitHubUsername,
				Repositories: cfg.GitHubRepositories,
			})
		case src == domain.SourceCoding && cfg.WakaTimeAPIKey != "":
			adapter, err = sources.NewWakaTime(sources.WakaTimeConfig{APIKey: cfg.WakaTimeAPIKey})
		default:
			adapter = sources.NewFile(src, cfg.ExportDir)
		}
		if err != nil {
			return nil, fmt.Errorf("configure %s source: %w", src, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
