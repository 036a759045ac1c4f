package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
	"sentiflow/processor"
	"sentiflow/reader"
)

// OriginFetcher fetches one Telegram-style origin.
type OriginFetcher interface {
	Fetch(ctx context.Context, origin models.Origin, start, end time.Time, totalLimit, pageSize int) reader.FetchResult
}

// QueryFetcher fetches the results of a search query.
type QueryFetcher interface {
	Fetch(ctx context.Context, query string, start, end time.Time, totalLimit, pageSize int) reader.FetchResult
}

// DailyStore persists a daily series.
type DailyStore interface {
	SaveDaily(ctx context.Context, rows []models.DailySentiment, path string) ([]string, error)
}

// Publisher forwards a run's daily series downstream.
type Publisher interface {
	Publish(ctx context.Context, runID string, rows []models.DailySentiment) error
}

// Params are the per-run knobs exposed on the command line. Zero values fall
// back to the configuration.
type Params struct {
	DaysBack           int
	IncludeToday       bool
	TweetsPerDay       int
	MessagesPerChannel int
	OutputPath         string
}

// Ingest runs the message pipelines.
type Ingest struct {
	cfg       *config.Config
	telegram  OriginFetcher
	twitter   QueryFetcher
	scorer    *processor.Scorer
	store     DailyStore
	publisher Publisher
	now       func() time.Time
	log       *logger.Log
}

// NewIngest creates an Ingest. telegram and twitter may be nil when the
// source is disabled.
func NewIngest(cfg *config.Config, telegram OriginFetcher, twitter QueryFetcher, scorer *processor.Scorer, store DailyStore) *Ingest {
	return &Ingest{
		cfg:      cfg,
		telegram: telegram,
		twitter:  twitter,
		scorer:   scorer,
		store:    store,
		now:      time.Now,
		log:      logger.GetLogger(),
	}
}

// WithPublisher sets an optional downstream publisher.
func (in *Ingest) WithPublisher(p Publisher) *Ingest {
	in.publisher = p
	return in
}

// WithClock replaces the clock used to compute the window.
func (in *Ingest) WithClock(now func() time.Time) *Ingest {
	in.now = now
	return in
}

// DefaultParams returns Params filled from the configuration.
func DefaultParams(cfg *config.Config) Params {
	return Params{
		DaysBack:           cfg.Pipeline.DaysBack,
		IncludeToday:       cfg.Pipeline.IncludeToday,
		TweetsPerDay:       cfg.Twitter.TweetsPerDay,
		MessagesPerChannel: cfg.Telegram.MessagesPerChannel,
		OutputPath:         cfg.Storage.OutputPath,
	}
}

func (in *Ingest) withDefaults(p Params) Params {
	d := DefaultParams(in.cfg)
	if p.DaysBack == 0 {
		p.DaysBack = d.DaysBack
	}
	if p.TweetsPerDay == 0 {
		p.TweetsPerDay = d.TweetsPerDay
	}
	if p.MessagesPerChannel == 0 {
		p.MessagesPerChannel = d.MessagesPerChannel
	}
	if p.OutputPath == "" {
		p.OutputPath = d.OutputPath
	}
	return p
}

type fetchJob struct {
	source string
	name   string
	run    func(ctx context.Context) reader.FetchResult
}

// Run fetches every configured Telegram origin and the Twitter query
// concurrently, scores and aggregates the combined records over the window
// and persists the gap-filled series. Zero fetched records end the run with
// StatusNoData and nothing is written.
func (in *Ingest) Run(ctx context.Context, p Params) (*Result, error) {
	p = in.withDefaults(p)
	return in.run(ctx, p, true, false)
}

// RunTelegram is the Telegram-only analysis over a continuous window. Unlike
// Run it writes a full no_data calendar when nothing was fetched.
func (in *Ingest) RunTelegram(ctx context.Context, p Params) (*Result, error) {
	p = in.withDefaults(p)
	return in.run(ctx, p, false, true)
}

func (in *Ingest) run(ctx context.Context, p Params, withTwitter, emptyCalendar bool) (*Result, error) {
	window, err := CalcWindow(in.now(), p.DaysBack, p.IncludeToday)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.NewString(), Window: window, Status: StatusOK}
	log := in.log.WithRun(res.RunID).WithComponent("ingest").WithFields(logger.Fields{
		"window_start": window.Start.Format("2006-01-02"),
		"window_end":   window.End.Format("2006-01-02"),
	})

	if in.cfg.Pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.cfg.Pipeline.Timeout)
		defer cancel()
	}

	jobs, sources := in.plan(window, p, withTwitter)
	if len(jobs) == 0 {
		res.Status = StatusNoOrigins
		res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
			Kind:   models.DiagNoOrigins,
			Detail: "no telegram origins or twitter query configured",
		})
		log.Warn("nothing to fetch")
		if !emptyCalendar {
			return res, nil
		}
		sources = []string{models.SourceTelegram}
	}

	started := time.Now()
	results := in.fanOut(ctx, jobs)
	logger.LogPerformanceEntry(log, "ingest", "fetch", time.Since(started), logger.Fields{"jobs": len(jobs)})

	var messages []models.RawMessage
	for _, r := range results {
		messages = append(messages, r.Messages...)
		res.Diagnostics = append(res.Diagnostics, r.Diagnostics...)
	}
	res.Report.Origins = originReports(results)

	if len(messages) == 0 {
		if res.Status == StatusOK {
			res.Status = StatusNoData
			res.Diagnostics = append(res.Diagnostics, models.Diagnostic{
				Kind:   models.DiagNoData,
				Detail: "no messages fetched for " + window.String(),
			})
		}
		log.Warn("no messages fetched")
		if !emptyCalendar {
			return res, nil
		}
	}

	records := in.scorer.Score(messages)
	res.Daily = processor.Aggregate(records, in.aggregateOptions(window, sources))
	res.Report.Sources = sourceReports(window, res.Daily)

	for _, sr := range res.Report.Sources {
		log.WithFields(logger.Fields{
			"source":        sr.Source,
			"expected_days": sr.ExpectedDays,
			"rows":          sr.Rows,
			"real_rows":     sr.RealRows,
		}).Info("daily rows per source")
	}
	in.log.LogMetric("ingest", "messages_fetched", len(messages), "counter", nil)
	in.log.LogMetric("ingest", "daily_rows", len(res.Daily), "gauge", nil)

	paths, err := in.store.SaveDaily(ctx, res.Daily, p.OutputPath)
	res.Paths = paths
	if err != nil {
		return res, fmt.Errorf("persist daily sentiment: %w", err)
	}

	if in.publisher != nil {
		if err := in.publisher.Publish(ctx, res.RunID, res.Daily); err != nil {
			return res, fmt.Errorf("publish daily sentiment: %w", err)
		}
	}

	log.WithFields(logger.Fields{
		"messages": len(messages),
		"rows":     len(res.Daily),
		"status":   res.Status,
	}).Info("ingest run complete")
	return res, nil
}

// plan lists the fetch jobs of a run and the source set of the gap-filled
// grid: every source that was asked for, whether or not it returns data.
func (in *Ingest) plan(window Window, p Params, withTwitter bool) ([]fetchJob, []string) {
	var jobs []fetchJob
	var sources []string

	if in.cfg.Telegram.Enabled && in.telegram != nil {
		origins := in.cfg.Telegram.Origins()
		for _, o := range origins {
			origin := o
			jobs = append(jobs, fetchJob{
				source: models.SourceTelegram,
				name:   origin.String(),
				run: func(ctx context.Context) reader.FetchResult {
					return in.telegram.Fetch(ctx, origin, window.Start, window.End, p.MessagesPerChannel, in.cfg.Telegram.PageSize)
				},
			})
		}
		if len(origins) > 0 {
			sources = append(sources, models.SourceTelegram)
		}
	}

	if withTwitter && in.cfg.Twitter.Enabled && in.twitter != nil && in.cfg.Twitter.Query != "" {
		limit := p.TweetsPerDay * window.Days()
		if limit < 1 {
			limit = 1
		}
		query := in.cfg.Twitter.Query
		jobs = append(jobs, fetchJob{
			source: models.SourceTwitter,
			name:   query,
			run: func(ctx context.Context) reader.FetchResult {
				return in.twitter.Fetch(ctx, query, window.Start, window.End, limit, in.cfg.Twitter.PageSize)
			},
		})
		sources = append(sources, models.SourceTwitter)
	}
	return jobs, sources
}

// fanOut runs one goroutine per job. Each goroutine owns its slot of the
// result slice; starts are spaced by the configured origin pause.
func (in *Ingest) fanOut(ctx context.Context, jobs []fetchJob) []reader.FetchResult {
	results := make([]reader.FetchResult, len(jobs))
	limiter := rate.NewLimiter(rate.Inf, 1)
	if pause := in.cfg.Telegram.OriginPause; pause > 0 {
		limiter = rate.NewLimiter(rate.Every(pause), 1)
	}

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job fetchJob) {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				results[i] = reader.FetchResult{
					Source: job.source,
					Origin: job.name,
					Diagnostics: []models.Diagnostic{{
						Kind:   models.DiagTransport,
						Source: job.source,
						Origin: job.name,
						Detail: err.Error(),
					}},
				}
				return
			}
			results[i] = job.run(ctx)
		}(i, job)
	}
	wg.Wait()
	return results
}

func (in *Ingest) aggregateOptions(window Window, sources []string) processor.AggregateOptions {
	opts := processor.DefaultAggregateOptions()
	opts.Start = window.Start
	opts.End = window.End
	opts.NeutralFill = in.cfg.Sentiment.NeutralFill
	opts.NoDataLabel = in.cfg.Sentiment.NoDataLabel
	opts.DefaultSource = in.cfg.Sentiment.DefaultSource
	opts.Sources = sources
	return opts
}
