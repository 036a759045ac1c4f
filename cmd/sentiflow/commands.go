package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/pipeline"
	"sentiflow/processor"
	"sentiflow/reader/binance"
	"sentiflow/reader/telegram"
	"sentiflow/reader/twitter"
	"sentiflow/writer"
)

type options struct {
	configPath         string
	env                string
	daysBack           int
	includeToday       bool
	tweetsPerDay       int
	messagesPerChannel int
	output             string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sentiflow",
		Short:         "BTC social sentiment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "config/config.yml", "Path to configuration file")
	pf.StringVar(&opts.env, "env", "", "Environment (development, staging, production); overrides APP_ENV")
	pf.IntVar(&opts.daysBack, "days-back", 0, "Number of calendar days to cover (0 uses the configured value)")
	pf.BoolVar(&opts.includeToday, "include-today", true, "End the window today instead of yesterday")
	pf.StringVar(&opts.output, "output", "", "Output parquet path (empty uses the configured path)")

	root.AddCommand(ingestCmd(opts), telegramCmd(opts), priceCmd(opts))
	return root
}

func ingestCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch Telegram and X messages, score them and write the daily series",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.ingest().Run(cmd.Context(), opts.params(cmd, a.cfg))
			if res != nil {
				pipeline.WriteReport(cmd.OutOrStdout(), *res)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d daily records generated\n", len(res.Daily))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.tweetsPerDay, "tweets-per-day", 0, "Tweet cap per day of the window (0 uses the configured value)")
	cmd.Flags().IntVar(&opts.messagesPerChannel, "messages-per-channel", 0, "Message cap per Telegram origin (0 uses the configured value)")
	return cmd
}

func telegramCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Telegram-only analysis; always writes a full calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.ingest().RunTelegram(cmd.Context(), opts.params(cmd, a.cfg))
			if res != nil {
				pipeline.WriteReport(cmd.OutOrStdout(), *res)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d daily records generated\n", len(res.Daily))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.messagesPerChannel, "messages-per-channel", 0, "Message cap per Telegram origin (0 uses the configured value)")
	return cmd
}

func priceCmd(opts *options) *cobra.Command {
	var sentimentPath string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Join the stored daily series with Binance daily closes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			overlay := pipeline.NewPriceOverlay(a.cfg, binance.NewClient(a.cfg.Binance), a.store)
			res, err := overlay.Run(cmd.Context(), pipeline.PriceParams{
				DaysBack:      opts.daysBack,
				IncludeToday:  opts.includeTodayOr(cmd, a.cfg.Pipeline.IncludeToday),
				SentimentPath: sentimentPath,
				OutputPath:    opts.output,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "window %s, status %s, %d price bars\n", res.Window, res.Status, res.Bars)
			for _, c := range res.Correlations {
				fmt.Fprintf(out, "  %s: corr(sentiment, price) %s, corr(sentiment, daily %%ret) %s over %d days\n",
					c.Source, formatCorr(c.Price, c.PriceOK), formatCorr(c.Return, c.ReturnOK), c.N)
			}
			for _, p := range res.Paths {
				fmt.Fprintf(out, "  wrote %s\n", p)
			}
			fmt.Fprintf(out, "%d joined records generated\n", len(res.Rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&sentimentPath, "sentiment", "", "Daily sentiment parquet to load (empty uses the configured output path)")
	return cmd
}

func formatCorr(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

func (o *options) includeTodayOr(cmd *cobra.Command, fallback bool) bool {
	if cmd.Flags().Changed("include-today") {
		return o.includeToday
	}
	return fallback
}

func (o *options) params(cmd *cobra.Command, cfg *config.Config) pipeline.Params {
	return pipeline.Params{
		DaysBack:           o.daysBack,
		IncludeToday:       o.includeTodayOr(cmd, cfg.Pipeline.IncludeToday),
		TweetsPerDay:       o.tweetsPerDay,
		MessagesPerChannel: o.messagesPerChannel,
		OutputPath:         o.output,
	}
}

// app holds what every subcommand needs once the configuration is loaded.
type app struct {
	cfg       *config.Config
	log       *logger.Log
	store     *writer.ParquetStore
	publisher *writer.DailyPublisher
}

func setup(ctx context.Context, opts *options) (*app, error) {
	log := logger.GetLogger()

	if opts.env != "" {
		if err := os.Setenv("APP_ENV", opts.env); err != nil {
			return nil, fmt.Errorf("set APP_ENV: %w", err)
		}
	}
	if opts.daysBack < 0 {
		return nil, fmt.Errorf("--days-back must be at least 1")
	}

	path := config.ResolvePath(opts.configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
		"config":  path,
	}).Info("starting sentiflow")

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(ctx, cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}

	var uploader *writer.S3Uploader
	if cfg.Storage.S3.Enabled {
		uploader, err = writer.NewS3Uploader(ctx, cfg.Storage.S3, cfg.App.Version)
		if err != nil {
			return nil, err
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; writing local files only")
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		store: writer.NewParquetStore(cfg.Storage, uploader),
	}
	if cfg.Storage.Kafka.Enabled {
		a.publisher, err = writer.NewDailyPublisher(cfg.Storage.Kafka)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) ingest() *pipeline.Ingest {
	var tg pipeline.OriginFetcher
	if a.cfg.Telegram.Enabled {
		tg = telegram.NewFetcher(a.cfg.Telegram)
	}
	var tw pipeline.QueryFetcher
	if a.cfg.Twitter.Enabled {
		tw = twitter.NewClient(a.cfg.Twitter)
	}

	in := pipeline.NewIngest(a.cfg, tg, tw, processor.NewScorer(a.cfg.Sentiment, nil), a.store)
	if a.publisher != nil {
		in.WithPublisher(a.publisher)
	}
	return in
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithComponent("main").WithError(err).Warn("failed to close kafka publisher")
		}
	}
	logger.ReportCounters(a.log)
}
