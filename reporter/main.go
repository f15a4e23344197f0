package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DeafMist/trend-affiliate-report/internal/affiliate"
	"github.com/DeafMist/trend-affiliate-report/internal/config"
	"github.com/DeafMist/trend-affiliate-report/internal/elasticsearch"
	"github.com/DeafMist/trend-affiliate-report/internal/logger"
	"github.com/DeafMist/trend-affiliate-report/internal/notify"
	"github.com/DeafMist/trend-affiliate-report/internal/pipeline"
	"github.com/DeafMist/trend-affiliate-report/internal/publish"
	"github.com/DeafMist/trend-affiliate-report/internal/store"
	"github.com/DeafMist/trend-affiliate-report/internal/trends"
)

var (
	configFile string
	limit      int
	noFilter   bool
	outputDir  string
)

var rootCmd = &cobra.Command{
	Use:   "reporter",
	Short: "Daily trending products report with affiliate links",
	Long: `reporter fetches today's trending searches, keeps the ones that look like
products, resolves Rakuten and Amazon links for them, appends the result to
the spreadsheet dataset and mails it.

Exit status is 1 when no trends were available or the run failed.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	Args:          cobra.NoArgs,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "JSON config file (default $CONFIG_FILE or <output-dir>/config.json)")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of trends to fetch (default $TOP_N or 20)")
	rootCmd.Flags().BoolVar(&noFilter, "no-filter", false, "keep every trend, not only product-like ones")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for the dataset, snippets and log (default $OUTPUT_DIR or .)")
}

func main() {
	_ = godotenv.Load()

	// run logs its own failures; cobra prints only flag errors.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cmd.SilenceErrors = true
	boot, _ := logger.New("reporter", "")

	if outputDir != "" {
		if err := os.Setenv("OUTPUT_DIR", outputDir); err != nil {
			boot.Error("set output dir", slog.Any("err", err))
			return err
		}
	}

	cfg, err := config.LoadReporter(configFile)
	if err != nil {
		boot.Error("load config", slog.Any("err", err))
		return err
	}
	if cmd.Flags().Changed("limit") && limit > 0 {
		cfg.TopN = limit
	}
	if noFilter {
		cfg.NoFilter = true
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		boot.Error("create output dir", slog.Any("err", err))
		return err
	}

	runID := uuid.NewString()
	base, closer := logger.New("reporter", cfg.LogFile)
	defer closer.Close()
	log := base.With(slog.String("run_id", runID))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	log.Info("run started",
		slog.Int("top_n", cfg.TopN),
		slog.Bool("no_filter", cfg.NoFilter),
		slog.String("output_dir", cfg.OutputDir),
	)

	rakuten := affiliate.NewRakuten(affiliate.RakutenOptions{
		AppID:       cfg.RakutenAppID,
		AffiliateID: cfg.RakutenAffiliateID,
	}, log)

	deps := pipeline.Deps{
		Trends: trends.New(trends.Options{
			Geo:      cfg.TrendsGeo,
			Language: cfg.TrendsLanguage,
			Location: cfg.Location,
		}, log),
		Ranking:  rakuten,
		Resolver: affiliate.NewResolver(rakuten, cfg.AmazonAssociateTag, nil, log),
		Dataset:  store.New(cfg.DatasetPath(), log),
		Sinks:    sinks(ctx, cfg, runID, log),
	}

	missing := cfg.MissingEmailFields()
	if len(missing) == 0 {
		deps.Mailer = notify.New(cfg.Email, log)
	}

	for _, s := range deps.Sinks {
		if k, ok := s.(*publish.Kafka); ok {
			defer func() {
				if err := k.Close(); err != nil {
					log.Warn("close kafka writer", slog.Any("err", err))
				}
			}()
		}
	}

	p := pipeline.New(pipeline.Options{
		TopN:            cfg.TopN,
		NoFilter:        cfg.NoFilter,
		OutputDir:       cfg.OutputDir,
		SubjectTemplate: cfg.Email.Subject,
		Location:        cfg.Location,
		MissingEmail:    missing,
	}, deps, log)

	if err := p.Run(ctx); err != nil {
		if errors.Is(err, pipeline.ErrNoTrends) {
			log.Error("no trends available, empty report written")
		} else {
			log.Error("run failed", slog.Any("err", err))
		}
		return err
	}
	return nil
}

// sinks returns the optional row sinks. An unreachable index is skipped, not fatal.
func sinks(ctx context.Context, cfg *config.Reporter, runID string, log *slog.Logger) []pipeline.Sink {
	var out []pipeline.Sink

	if cfg.ElasticsearchAddr != "" {
		es, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			log.Warn("elasticsearch sink disabled", slog.Any("err", err))
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := es.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Warn("elasticsearch sink disabled, ping failed", slog.Any("err", err))
			} else {
				out = append(out, es)
			}
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		out = append(out, publish.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, runID, log))
	}

	return out
}
