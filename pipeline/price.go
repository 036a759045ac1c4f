package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
	"sentiflow/processor"
)

// PriceFetcher returns daily bars for a symbol.
type PriceFetcher interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)
}

// JoinedStore loads the daily series and persists the price-joined table.
type JoinedStore interface {
	LoadDaily(path string) ([]models.DailySentiment, error)
	SaveJoined(ctx context.Context, rows []models.JoinedRow, path string) ([]string, error)
}

// PriceParams configure one overlay run. Zero values fall back to the
// configuration.
type PriceParams struct {
	DaysBack      int
	IncludeToday  bool
	SentimentPath string
	OutputPath    string
}

// Correlation holds the Pearson coefficients of one source's average score
// against the close price and against the daily return. Only days with real
// messages and a known price take part.
type Correlation struct {
	Source   string  `json:"source"`
	N        int     `json:"n"`
	Price    float64 `json:"price"`
	PriceOK  bool    `json:"price_ok"`
	Return   float64 `json:"return"`
	ReturnOK bool    `json:"return_ok"`
}

// PriceResult is the outcome of an overlay run.
type PriceResult struct {
	RunID        string             `json:"run_id"`
	Window       Window             `json:"window"`
	Status       Status             `json:"status"`
	Symbol       string             `json:"symbol"`
	Bars         int                `json:"bars"`
	Rows         []models.JoinedRow `json:"rows"`
	Correlations []Correlation      `json:"correlations"`
	Paths        []string           `json:"paths,omitempty"`
}

// PriceOverlay joins a persisted daily series with daily closes.
type PriceOverlay struct {
	cfg    *config.Config
	prices PriceFetcher
	store  JoinedStore
	now    func() time.Time
	log    *logger.Log
}

func NewPriceOverlay(cfg *config.Config, prices PriceFetcher, store JoinedStore) *PriceOverlay {
	return &PriceOverlay{
		cfg:    cfg,
		prices: prices,
		store:  store,
		now:    time.Now,
		log:    logger.GetLogger(),
	}
}

// WithClock replaces the clock used to compute the window.
func (po *PriceOverlay) WithClock(now func() time.Time) *PriceOverlay {
	po.now = now
	return po
}

// Run loads the daily series, fetches bars for the window, left joins them by
// date, derives per-source returns and correlations and persists the result.
// Without sentiment rows the run ends with StatusNoData; without bars the
// rows come back unjoined with StatusNoPrice and nothing is written.
func (po *PriceOverlay) Run(ctx context.Context, p PriceParams) (*PriceResult, error) {
	if p.DaysBack == 0 {
		p.DaysBack = po.cfg.Pipeline.PriceDaysBack
	}
	if p.SentimentPath == "" {
		p.SentimentPath = po.cfg.Storage.OutputPath
	}
	if p.OutputPath == "" {
		p.OutputPath = po.cfg.Storage.PriceOutputPath
	}

	window, err := CalcWindow(po.now(), p.DaysBack, p.IncludeToday)
	if err != nil {
		return nil, err
	}
	res := &PriceResult{RunID: uuid.NewString(), Window: window, Status: StatusOK, Symbol: po.cfg.Binance.Symbol}
	log := po.log.WithRun(res.RunID).WithComponent("price_overlay").WithFields(logger.Fields{
		"symbol": res.Symbol,
		"window": window.String(),
	})

	if po.cfg.Pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, po.cfg.Pipeline.Timeout)
		defer cancel()
	}

	daily, err := po.store.LoadDaily(p.SentimentPath)
	if err != nil {
		return nil, fmt.Errorf("load daily sentiment: %w", err)
	}
	if len(daily) == 0 {
		res.Status = StatusNoData
		log.WithFields(logger.Fields{"path": p.SentimentPath}).Warn("no sentiment records found, run ingest first")
		return res, nil
	}

	bars, err := po.prices.Fetch(ctx, res.Symbol, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	res.Bars = len(bars)
	res.Rows = Join(daily, bars)
	if len(bars) == 0 {
		res.Status = StatusNoPrice
		log.Warn("no price data returned")
		return res, nil
	}

	res.Correlations = Correlate(res.Rows)
	for _, c := range res.Correlations {
		log.WithFields(logger.Fields{
			"source":       c.Source,
			"n":            c.N,
			"corr_price":   c.Price,
			"corr_return":  c.Return,
			"price_valid":  c.PriceOK,
			"return_valid": c.ReturnOK,
		}).Info("sentiment correlation")
	}

	paths, err := po.store.SaveJoined(ctx, res.Rows, p.OutputPath)
	res.Paths = paths
	if err != nil {
		return res, fmt.Errorf("persist joined table: %w", err)
	}
	log.WithFields(logger.Fields{"rows": len(res.Rows), "bars": len(bars)}).Info("price overlay complete")
	return res, nil
}

// Join left joins daily rows with bars on the calendar day. Rows are sorted by
// source then date; ReturnPct is the percent change of the close against the
// most recent earlier close of the same source.
func Join(daily []models.DailySentiment, bars []models.PriceBar) []models.JoinedRow {
	closes := make(map[time.Time]float64, len(bars))
	for _, b := range bars {
		closes[models.DayStart(b.Date)] = b.Close
	}

	rows := make([]models.JoinedRow, 0, len(daily))
	for _, d := range daily {
		d.Date = models.DayStart(d.Date)
		row := models.JoinedRow{DailySentiment: d}
		if c, ok := closes[d.Date]; ok {
			c := c
			row.Close = &c
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Source != rows[j].Source {
			return rows[i].Source < rows[j].Source
		}
		return rows[i].Date.Before(rows[j].Date)
	})

	var prev *float64
	prevSource := ""
	for i := range rows {
		if rows[i].Source != prevSource {
			prev, prevSource = nil, rows[i].Source
		}
		cur := rows[i].Close
		if cur == nil {
			continue
		}
		if prev != nil && *prev != 0 {
			ret := (*cur / *prev - 1) * 100
			rows[i].ReturnPct = &ret
		}
		prev = cur
	}
	return rows
}

// Correlate computes one Correlation per source over real, priced rows.
func Correlate(rows []models.JoinedRow) []Correlation {
	type series struct{ score, price, retScore, ret []float64 }
	bySource := make(map[string]*series)
	var order []string

	for _, r := range rows {
		s, ok := bySource[r.Source]
		if !ok {
			s = &series{}
			bySource[r.Source] = s
			order = append(order, r.Source)
		}
		if r.IsSynthetic() || r.Close == nil {
			continue
		}
		s.score = append(s.score, r.AvgScore)
		s.price = append(s.price, *r.Close)
		if r.ReturnPct != nil {
			s.retScore = append(s.retScore, r.AvgScore)
			s.ret = append(s.ret, *r.ReturnPct)
		}
	}

	sort.Strings(order)
	out := make([]Correlation, 0, len(order))
	for _, src := range order {
		s := bySource[src]
		c := Correlation{Source: src, N: len(s.score)}
		c.Price, c.PriceOK = processor.Pearson(s.score, s.price)
		c.Return, c.ReturnOK = processor.Pearson(s.retScore, s.ret)
		out = append(out, c)
	}
	return out
}
