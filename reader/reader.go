// Package reader fetches time-windowed message history from paginated
// sources. Transports only know how to return one page; the Fetcher owns
// cursoring, dedup, retry budgets and completeness diagnostics.
package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentiflow/models"
)

var (
	// ErrOriginNotFound means the origin does not exist or cannot be resolved.
	ErrOriginNotFound = errors.New("origin not found")
	// ErrAccessDenied means the origin exists but is private or banned.
	ErrAccessDenied = errors.New("origin access denied")
)

// RetryAfterError is returned by a transport when the remote asks the caller
// to wait before the next request.
type RetryAfterError struct {
	Wait   time.Duration
	Reason string
}

func (e *RetryAfterError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("rate limited (%s): retry after %s", e.Reason, e.Wait)
	}
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// PageRequest addresses one page of an origin's history. Transports return
// records strictly after (OffsetDate, OffsetID), oldest first.
type PageRequest struct {
	Origin     models.Origin
	OffsetDate time.Time
	OffsetID   int64
	Limit      int
}

// Transport fetches a single page of history.
type Transport interface {
	FetchPage(ctx context.Context, req PageRequest) ([]models.RawMessage, error)
}

// FetchResult is the outcome of one origin's fetch. Messages are oldest first
// and unique by (origin, id).
type FetchResult struct {
	Source      string
	Origin      string
	Messages    []models.RawMessage
	Diagnostics []models.Diagnostic
}

// Unavailable reports whether the origin was skipped entirely.
func (r FetchResult) Unavailable() bool {
	for _, d := range r.Diagnostics {
		if d.Kind == models.DiagOriginUnavailable {
			return true
		}
	}
	return false
}
