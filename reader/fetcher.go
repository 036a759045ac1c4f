package reader

import (
	"context"
	"strings"
	"time"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 200

// offsetEpsilon moves the first offset below start so a record stamped
// exactly at start survives the transport's exclusive offset.
const offsetEpsilon = time.Second

// Fetcher walks an origin's history through a Transport.
type Fetcher struct {
	source    string
	transport Transport
	retry     config.RetryConfig
	sleep     Sleeper
	log       *logger.Log
}

// NewFetcher creates a Fetcher tagging records with source.
func NewFetcher(source string, transport Transport, retry config.RetryConfig) *Fetcher {
	return &Fetcher{
		source:    source,
		transport: transport,
		retry:     retry,
		sleep:     SleepContext,
		log:       logger.GetLogger(),
	}
}

// WithSleeper replaces the rate-limit sleeper. Tests use it to avoid real
// waits.
func (f *Fetcher) WithSleeper(s Sleeper) *Fetcher {
	f.sleep = s
	return f
}

// Source returns the source tag attached to fetched records.
func (f *Fetcher) Source() string { return f.source }

// Fetch returns the records of origin in [start, end], oldest first,
// deduplicated and truncated at totalLimit when it is positive. Failures never
// surface as errors; they end the walk early and are reported as diagnostics
// next to whatever was already collected.
func (f *Fetcher) Fetch(ctx context.Context, origin models.Origin, start, end time.Time, totalLimit, pageSize int) FetchResult {
	start, end = start.UTC(), end.UTC()
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	originKey := origin.String()
	log := f.log.WithComponent(f.source + "_reader").WithFields(logger.Fields{
		"origin": originKey,
		"start":  start.Format(time.RFC3339),
		"end":    end.Format(time.RFC3339),
	})

	res := FetchResult{Source: f.source, Origin: originKey}
	backoff := NewBackoff(f.retry, f.sleep)
	seen := make(map[models.MessageKey]struct{})

	offsetDate := start.Add(-offsetEpsilon)
	var offsetID int64
	pages := 0

walk:
	for {
		limit := pageSize
		if totalLimit > 0 && totalLimit-len(res.Messages) < limit {
			limit = totalLimit - len(res.Messages)
		}

		page, err := f.transport.FetchPage(ctx, PageRequest{
			Origin:     origin,
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			Limit:      limit,
		})
		if err != nil {
			retry, d := backoff.Handle(ctx, f.log, f.source, originKey, err)
			if retry {
				continue
			}
			if d.Kind == models.DiagOriginUnavailable {
				return FetchResult{Source: f.source, Origin: originKey, Diagnostics: []models.Diagnostic{*d}}
			}
			res.Diagnostics = append(res.Diagnostics, *d)
			break
		}

		pages++
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			m.Source = f.source
			m.Origin = originKey
			m.Timestamp = m.Timestamp.UTC()

			if m.Timestamp.After(end) {
				break walk
			}
			if m.Timestamp.Before(start) || strings.TrimSpace(m.Text) == "" {
				continue
			}
			key := m.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			res.Messages = append(res.Messages, m)
			if totalLimit > 0 && len(res.Messages) >= totalLimit {
				break walk
			}
		}

		if len(page) < limit {
			break
		}

		last := page[len(page)-1]
		lastDate := last.Timestamp.UTC()
		if !cursorAfter(lastDate, last.ID, offsetDate, offsetID) {
			log.WithFields(logger.Fields{"offset_id": offsetID}).Warn("cursor did not advance, stopping")
			break
		}
		offsetDate, offsetID = lastDate, last.ID
	}

	res.Diagnostics = append(res.Diagnostics, Completeness(f.source, originKey, res.Messages, start, totalLimit)...)

	log.WithFields(logger.Fields{
		"messages": len(res.Messages),
		"pages":    pages,
		"retries":  backoff.Attempts(),
	}).Info("origin fetch finished")
	return res
}

// cursorAfter orders cursors by timestamp, then id.
func cursorAfter(ts time.Time, id int64, prevTS time.Time, prevID int64) bool {
	if ts.After(prevTS) {
		return true
	}
	return ts.Equal(prevTS) && id > prevID
}
