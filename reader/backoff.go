package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentiflow/config"
	ratemetrics "sentiflow/internal/metrics/rate"
	"sentiflow/logger"
	"sentiflow/models"
)

var (
	// ErrRetriesExhausted is returned once an origin has used its attempt budget.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
	// ErrWaitCeiling is returned when the remote asks for a wait above the ceiling.
	ErrWaitCeiling = errors.New("requested wait exceeds ceiling")
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff is the retry budget of a single origin's fetch. It is not safe for
// concurrent use; every fetch builds its own.
type Backoff struct {
	maxAttempts int
	margin      time.Duration
	maxWait     time.Duration
	sleep       Sleeper

	attempts int
	waited   time.Duration
}

// NewBackoff builds a budget from cfg. Zero values fall back to 5 attempts,
// a 1s margin and a 300s ceiling.
func NewBackoff(cfg config.RetryConfig, sleep Sleeper) *Backoff {
	b := &Backoff{
		maxAttempts: cfg.MaxAttempts,
		margin:      cfg.Margin,
		maxWait:     cfg.MaxWait,
		sleep:       sleep,
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = 5
	}
	if b.margin <= 0 {
		b.margin = time.Second
	}
	if b.maxWait <= 0 {
		b.maxWait = 300 * time.Second
	}
	if b.sleep == nil {
		b.sleep = SleepContext
	}
	return b
}

// Next consumes one attempt and returns how long to wait before retrying
// when the remote asked for requested.
func (b *Backoff) Next(requested time.Duration) (time.Duration, error) {
	if requested > b.maxWait {
		return 0, fmt.Errorf("%w: %s > %s", ErrWaitCeiling, requested, b.maxWait)
	}
	if b.attempts >= b.maxAttempts {
		return 0, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, b.attempts)
	}
	b.attempts++
	return requested + b.margin, nil
}

// NextTransient is Next for failures that carry no wait hint. The wait
// doubles with every attempt already spent.
func (b *Backoff) NextTransient() (time.Duration, error) {
	return b.Next(b.margin * time.Duration(1<<uint(b.attempts)))
}

// Wait sleeps for d through the configured Sleeper.
func (b *Backoff) Wait(ctx context.Context, d time.Duration) error {
	b.waited += d
	return b.sleep(ctx, d)
}

// Attempts returns the number of retries consumed so far.
func (b *Backoff) Attempts() int { return b.attempts }

// Waited returns the total time spent sleeping.
func (b *Backoff) Waited() time.Duration { return b.waited }

// Handle classifies a failed request against origin and applies the budget.
// retry means the wait was served and the same request should be sent again.
// Otherwise diag says why the walk ends; a DiagOriginUnavailable diagnostic
// means records already collected for the origin must be discarded.
func (b *Backoff) Handle(ctx context.Context, log *logger.Log, source, origin string, err error) (retry bool, diag *models.Diagnostic) {
	entry := log.WithComponent(source + "_reader").WithFields(logger.Fields{"origin": origin})
	stop := func(kind models.DiagnosticKind, detail string, wait time.Duration) (bool, *models.Diagnostic) {
		return false, &models.Diagnostic{Kind: kind, Source: source, Origin: origin, Detail: detail, Wait: wait}
	}

	if ctx.Err() != nil {
		return stop(models.DiagTransport, ctx.Err().Error(), 0)
	}

	var retryAfter *RetryAfterError
	switch {
	case errors.As(err, &retryAfter):
		ratemetrics.ReportRateLimited(log, source, origin, retryAfter.Wait)
		wait, berr := b.Next(retryAfter.Wait)
		if berr != nil {
			entry.WithError(berr).Warn("abandoning origin after rate limit")
			return stop(models.DiagRateLimited, berr.Error(), retryAfter.Wait)
		}
		if err := b.Wait(ctx, wait); err != nil {
			return stop(models.DiagTransport, err.Error(), 0)
		}
		return true, nil

	case errors.Is(err, ErrOriginNotFound), errors.Is(err, ErrAccessDenied):
		if errors.Is(err, ErrAccessDenied) {
			ratemetrics.ReportAccessDenied(log, source, origin)
		}
		entry.WithError(err).Warn("origin unavailable, skipping")
		return stop(models.DiagOriginUnavailable, err.Error(), 0)

	default:
		// gateways sometimes surface limits as plain errors
		ratemetrics.ReportLimitFromMessage(log, source, origin, err.Error())
		wait, berr := b.NextTransient()
		if berr != nil {
			entry.WithError(err).Warn("transport failed, keeping partial result")
			return stop(models.DiagTransport, fmt.Sprintf("%v (%v)", err, berr), 0)
		}
		entry.WithError(err).WithFields(logger.Fields{"retry_in": wait.String()}).Debug("transient transport failure")
		if err := b.Wait(ctx, wait); err != nil {
			return stop(models.DiagTransport, err.Error(), 0)
		}
		return true, nil
	}
}
