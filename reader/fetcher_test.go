package reader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiflow/config"
	"sentiflow/models"
)

var day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeTransport serves msgs with exclusive (date, id) offsets. Scripted
// errors are returned before the page of the matching call index.
type fakeTransport struct {
	msgs     []models.RawMessage
	errs     map[int]error
	overlap  bool
	requests []PageRequest
}

func (f *fakeTransport) FetchPage(ctx context.Context, req PageRequest) ([]models.RawMessage, error) {
	call := len(f.requests)
	f.requests = append(f.requests, req)
	if err, ok := f.errs[call]; ok {
		return nil, err
	}

	sorted := append([]models.RawMessage(nil), f.msgs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var out []models.RawMessage
	for i, m := range sorted {
		if !cursorAfter(m.Timestamp, m.ID, req.OffsetDate, req.OffsetID) {
			continue
		}
		// re-send the record sitting on the boundary, as some gateways do
		if f.overlap && call > 0 && len(out) == 0 && i > 0 {
			out = append(out, sorted[i-1])
		}
		out = append(out, m)
		if len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

func msg(id int64, ts time.Time) models.RawMessage {
	return models.RawMessage{ID: id, Timestamp: ts, Text: fmt.Sprintf("message %d", id)}
}

func noSleep(waits *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func hourly(n int) []models.RawMessage {
	out := make([]models.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, msg(int64(i+1), day1.Add(time.Duration(i)*time.Hour)))
	}
	return out
}

func TestFetchIncludesRecordAtStart(t *testing.T) {
	tr := &fakeTransport{msgs: []models.RawMessage{msg(1, day1), msg(2, day1.Add(time.Minute))}}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour-time.Second), 0, 10)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, int64(1), res.Messages[0].ID)
	assert.Equal(t, day1.Add(-time.Second), tr.requests[0].OffsetDate)
	assert.Equal(t, "@btc", res.Messages[0].Origin)
	assert.Equal(t, models.SourceTelegram, res.Messages[0].Source)
}

func TestFetchDedupsAcrossPageBoundary(t *testing.T) {
	tr := &fakeTransport{msgs: hourly(10), overlap: true}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(48*time.Hour), 0, 3)

	require.Len(t, res.Messages, 10)
	seen := map[int64]bool{}
	for i, m := range res.Messages {
		assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.Timestamp.Before(res.Messages[i-1].Timestamp), "not oldest first")
		}
	}
	assert.Greater(t, len(tr.requests), 3)
}

func TestFetchStopsPastEnd(t *testing.T) {
	tr := &fakeTransport{msgs: hourly(30)}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	end := day1.Add(5*time.Hour + 30*time.Minute)
	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, end, 0, 4)

	require.Len(t, res.Messages, 6)
	for _, m := range res.Messages {
		assert.False(t, m.Timestamp.After(end))
	}
}

func TestFetchClipsAtTotalLimit(t *testing.T) {
	tr := &fakeTransport{msgs: hourly(20)}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(48*time.Hour), 7, 5)

	require.Len(t, res.Messages, 7)
	assert.Equal(t, 2, tr.requests[1].Limit, "second page only asks for what is left")
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.DiagClipped, res.Diagnostics[0].Kind)
}

func TestFetchRetriesAfterRateLimit(t *testing.T) {
	tr := &fakeTransport{
		msgs: hourly(6),
		errs: map[int]error{1: &RetryAfterError{Wait: 30 * time.Second, Reason: "FLOOD_WAIT_30"}},
	}
	var waits []time.Duration
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{MaxAttempts: 3, Margin: time.Second, MaxWait: time.Minute}).
		WithSleeper(noSleep(&waits))

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour), 0, 3)

	require.Len(t, res.Messages, 6)
	assert.Equal(t, []time.Duration{31 * time.Second}, waits)
	// the retry resumes from the same cursor
	assert.Equal(t, tr.requests[1].OffsetID, tr.requests[2].OffsetID)
	assert.Empty(t, res.Diagnostics)
}

func TestFetchAbandonsOriginAboveCeiling(t *testing.T) {
	tr := &fakeTransport{
		msgs: hourly(6),
		errs: map[int]error{1: &RetryAfterError{Wait: time.Hour}},
	}
	var waits []time.Duration
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{MaxWait: 300 * time.Second}).
		WithSleeper(noSleep(&waits))

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour), 0, 3)

	assert.Len(t, res.Messages, 3, "records fetched before the limit are kept")
	assert.Empty(t, waits)
	require.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, models.DiagRateLimited, res.Diagnostics[0].Kind)
	assert.Equal(t, time.Hour, res.Diagnostics[0].Wait)
}

func TestFetchAbandonsOriginAfterMaxAttempts(t *testing.T) {
	limited := &RetryAfterError{Wait: time.Second}
	tr := &fakeTransport{msgs: hourly(3), errs: map[int]error{0: limited, 1: limited, 2: limited}}
	var waits []time.Duration
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{MaxAttempts: 2}).WithSleeper(noSleep(&waits))

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour), 0, 10)

	assert.Empty(t, res.Messages)
	assert.Len(t, waits, 2)
	assert.Len(t, tr.requests, 3)
	require.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, models.DiagRateLimited, res.Diagnostics[0].Kind)
}

func TestFetchSkipsUnavailableOrigin(t *testing.T) {
	for _, sentinel := range []error{ErrOriginNotFound, ErrAccessDenied} {
		tr := &fakeTransport{errs: map[int]error{0: fmt.Errorf("resolve @gone: %w", sentinel)}}
		f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

		res := f.Fetch(context.Background(), models.NamedOrigin("@gone"), day1, day1.Add(24*time.Hour), 0, 10)

		assert.Empty(t, res.Messages)
		assert.True(t, res.Unavailable())
		require.Len(t, res.Diagnostics, 1)
		assert.True(t, res.Diagnostics[0].Fatal())
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	tr := &fakeTransport{msgs: hourly(2), errs: map[int]error{0: errors.New("connection reset")}}
	var waits []time.Duration
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{Margin: time.Second}).WithSleeper(noSleep(&waits))

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour), 0, 10)

	assert.Len(t, res.Messages, 2)
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}

func TestFetchReportsTailGap(t *testing.T) {
	tr := &fakeTransport{msgs: []models.RawMessage{msg(1, day1.Add(30*time.Hour))}}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(48*time.Hour-time.Second), 0, 10)

	require.Len(t, res.Messages, 1)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.DiagTailGap, res.Diagnostics[0].Kind)
}

func TestFetchDropsBlankText(t *testing.T) {
	blank := msg(2, day1.Add(time.Hour))
	blank.Text = "   "
	tr := &fakeTransport{msgs: []models.RawMessage{msg(1, day1), blank}}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour), 0, 10)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, int64(1), res.Messages[0].ID)
}

type stuckTransport struct{ calls int }

func (s *stuckTransport) FetchPage(ctx context.Context, req PageRequest) ([]models.RawMessage, error) {
	s.calls++
	// ignores the offset and always returns the same full page
	return []models.RawMessage{msg(1, day1), msg(2, day1)}, nil
}

func TestFetchBreaksOnStalledCursor(t *testing.T) {
	tr := &stuckTransport{}
	f := NewFetcher(models.SourceTelegram, tr, config.RetryConfig{})

	res := f.Fetch(context.Background(), models.NamedOrigin("@btc"), day1, day1.Add(24*time.Hour), 0, 2)

	assert.Len(t, res.Messages, 2)
	assert.Equal(t, 2, tr.calls)
}
