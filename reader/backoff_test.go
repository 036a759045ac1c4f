package reader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
)

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(config.RetryConfig{}, nil)

	wait, err := b.Next(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 11*time.Second, wait)

	_, err = b.Next(301 * time.Second)
	assert.True(t, errors.Is(err, ErrWaitCeiling))
	assert.Equal(t, 1, b.Attempts(), "a refused wait does not consume an attempt")
}

func TestBackoffExhausts(t *testing.T) {
	b := NewBackoff(config.RetryConfig{MaxAttempts: 2, Margin: time.Millisecond}, nil)
	for i := 0; i < 2; i++ {
		_, err := b.Next(0)
		require.NoError(t, err)
	}
	_, err := b.Next(0)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
}

func TestBackoffTransientDoubles(t *testing.T) {
	b := NewBackoff(config.RetryConfig{MaxAttempts: 4, Margin: time.Second}, nil)
	var got []time.Duration
	for i := 0; i < 3; i++ {
		wait, err := b.NextTransient()
		require.NoError(t, err)
		got = append(got, wait)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}, got)
}

func TestSleepContextHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffWaitTracksTotal(t *testing.T) {
	b := NewBackoff(config.RetryConfig{}, func(ctx context.Context, d time.Duration) error { return nil })
	require.NoError(t, b.Wait(context.Background(), time.Second))
	require.NoError(t, b.Wait(context.Background(), 2*time.Second))
	assert.Equal(t, 3*time.Second, b.Waited())
}

func TestBackoffHandle(t *testing.T) {
	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	cases := []struct {
		name      string
		err       error
		wantRetry bool
		wantKind  models.DiagnosticKind
		wantWait  time.Duration
	}{
		{name: "rate limited", err: &RetryAfterError{Wait: 2 * time.Second}, wantRetry: true, wantWait: 3 * time.Second},
		{name: "wait above ceiling", err: &RetryAfterError{Wait: 400 * time.Second}, wantKind: models.DiagRateLimited},
		{name: "access denied", err: fmt.Errorf("@x: CHANNEL_PRIVATE: %w", ErrAccessDenied), wantKind: models.DiagOriginUnavailable},
		{name: "not found", err: fmt.Errorf("@x: %w", ErrOriginNotFound), wantKind: models.DiagOriginUnavailable},
		{name: "transient", err: errors.New("connection reset"), wantRetry: true, wantWait: 2 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBackoff(config.RetryConfig{MaxAttempts: 2, Margin: time.Second, MaxWait: 300 * time.Second}, noSleep)
			retry, d := b.Handle(context.Background(), logger.GetLogger(), models.SourceTelegram, "@x", tc.err)
			assert.Equal(t, tc.wantRetry, retry)
			if tc.wantRetry {
				assert.Nil(t, d)
				assert.Equal(t, tc.wantWait, b.Waited())
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tc.wantKind, d.Kind)
			assert.Equal(t, "@x", d.Origin)
			assert.Equal(t, models.SourceTelegram, d.Source)
		})
	}
}

func TestBackoffHandleStopsWhenBudgetSpent(t *testing.T) {
	b := NewBackoff(config.RetryConfig{MaxAttempts: 1, Margin: time.Millisecond}, func(ctx context.Context, d time.Duration) error { return nil })
	log := logger.GetLogger()
	boom := errors.New("bad gateway")

	retry, _ := b.Handle(context.Background(), log, models.SourceTwitter, "btc", boom)
	require.True(t, retry)

	retry, d := b.Handle(context.Background(), log, models.SourceTwitter, "btc", boom)
	assert.False(t, retry)
	require.NotNil(t, d)
	assert.Equal(t, models.DiagTransport, d.Kind)
	assert.Contains(t, d.Detail, "bad gateway")
}

func TestBackoffHandleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBackoff(config.RetryConfig{}, nil)

	retry, d := b.Handle(ctx, logger.GetLogger(), models.SourceTelegram, "@x", &RetryAfterError{Wait: time.Second})
	assert.False(t, retry)
	require.NotNil(t, d)
	assert.Equal(t, models.DiagTransport, d.Kind)
	assert.Equal(t, 0, b.Attempts())
}
