// Package binance fetches daily candles from the Binance spot API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"sentiflow/config"
	ratemetrics "sentiflow/internal/metrics/rate"
	"sentiflow/logger"
	"sentiflow/models"
	"sentiflow/reader"
)

const (
	dailyInterval = "1d"
	maxPageLimit  = 1000
	// returned with HTTP 429 when request weight is exceeded
	codeTooManyRequests = -1003
)

// Client pages through daily klines for one symbol.
type Client struct {
	client      *gobinance.Client
	pageLimit   int
	backoff     time.Duration
	maxAttempts int
	sleep       reader.Sleeper
	log         *logger.Log
}

// NewClient creates a Client using the binance-go spot client.
func NewClient(cfg config.BinanceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := gobinance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	c := &Client{
		client:      client,
		pageLimit:   cfg.PageLimit,
		backoff:     cfg.Backoff,
		maxAttempts: cfg.MaxAttempts,
		sleep:       reader.SleepContext,
		log:         logger.GetLogger(),
	}
	if c.pageLimit <= 0 || c.pageLimit > maxPageLimit {
		c.pageLimit = maxPageLimit
	}
	if c.backoff <= 0 {
		c.backoff = 1200 * time.Millisecond
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 5
	}

	c.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"base_url":   client.BaseURL,
		"page_limit": c.pageLimit,
		"timeout":    timeout,
	}).Info("binance kline client initialized")
	return c
}

// WithSleeper replaces the backoff sleeper.
func (c *Client) WithSleeper(s reader.Sleeper) *Client {
	c.sleep = s
	return c
}

// Fetch returns one bar per UTC day in [start, end], sorted by date. An empty
// range yields an empty slice and a nil error.
func (c *Client) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	startDay := models.DayStart(start)
	endDay := models.DayStart(end)
	if endDay.Before(startDay) {
		return []models.PriceBar{}, nil
	}

	log := c.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"start":  startDay.Format("2006-01-02"),
		"end":    endDay.Format("2006-01-02"),
	})

	endMs := endDay.Add(24*time.Hour).UnixMilli() - 1
	cursor := startDay.UnixMilli()
	attempts := 0
	byDate := make(map[time.Time]models.PriceBar)

	for cursor <= endMs {
		klines, err := c.client.NewKlinesService().
			Symbol(symbol).
			Interval(dailyInterval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(c.pageLimit).
			Do(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isRateLimited(err) {
				return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
			}
			attempts++
			ratemetrics.ReportRateLimited(c.log, "binance", symbol, c.backoff)
			if attempts > c.maxAttempts {
				return nil, fmt.Errorf("fetch klines for %s: rate limited %d times: %w", symbol, attempts, err)
			}
			if err := c.sleep(ctx, c.backoff); err != nil {
				return nil, err
			}
			continue
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, err := toBar(k)
			if err != nil {
				log.WithError(err).Warn("skipping malformed kline")
				continue
			}
			if bar.Date.Before(startDay) || bar.Date.After(endDay) {
				continue
			}
			byDate[bar.Date] = bar
		}

		next := klines[len(klines)-1].OpenTime + 1
		if next <= cursor {
			log.WithFields(logger.Fields{"cursor": cursor}).Warn("kline cursor stalled, stopping")
			break
		}
		cursor = next
		if len(klines) < c.pageLimit {
			break
		}
	}

	bars := make([]models.PriceBar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	log.WithFields(logger.Fields{"bars": len(bars)}).Info("fetched daily klines")
	return bars, nil
}

func toBar(k *gobinance.Kline) (models.PriceBar, error) {
	var bar models.PriceBar
	fields := []struct {
		raw string
		dst *float64
	}{
		{k.Open, &bar.Open},
		{k.High, &bar.High},
		{k.Low, &bar.Low},
		{k.Close, &bar.Close},
		{k.Volume, &bar.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return models.PriceBar{}, fmt.Errorf("parse %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	bar.Date = models.DayStart(time.UnixMilli(k.OpenTime))
	return bar, nil
}

func isRateLimited(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeTooManyRequests {
			return true
		}
		return ratemetrics.IsRateLimitMessage("binance", apiErr.Message)
	}
	return ratemetrics.IsRateLimitMessage("binance", err.Error())
}
