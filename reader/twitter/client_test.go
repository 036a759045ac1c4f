package twitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiflow/config"
	"sentiflow/models"
)

var (
	day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now  = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
)

func tw(id int, ts time.Time) tweet {
	return tweet{ID: strconv.Itoa(id), Text: "bitcoin looks strong", CreatedAt: ts.Format("2006-01-02T15:04:05.000Z")}
}

type searchServer struct {
	pages    map[string]searchResponse
	limited  bool
	requests []*http.Request
}

func (s *searchServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requests = append(s.requests, r)
		assert.Equal(t, searchPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if s.limited {
			s.limited = false
			w.Header().Set("x-rate-limit-reset", strconv.FormatInt(now.Add(20*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("x-rate-limit-remaining", "170")
		_ = json.NewEncoder(w).Encode(s.pages[r.URL.Query().Get("next_token")])
	}
}

func newClient(srv *httptest.Server, waits *[]time.Duration) *Client {
	return NewClient(config.TwitterConfig{
		BaseURL:     srv.URL,
		BearerToken: "tok",
		Retry:       config.RetryConfig{MaxAttempts: 2, Margin: time.Second, MaxWait: time.Minute},
	}).WithClock(func() time.Time { return now }).
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		})
}

func TestFetchPagesNewestFirstIntoOldestFirst(t *testing.T) {
	s := &searchServer{
		limited: true,
		pages: map[string]searchResponse{
			"": {
				Data: []tweet{tw(5, day1.Add(20*time.Hour)), tw(4, day1.Add(15*time.Hour)), tw(3, day1.Add(10*time.Hour))},
				Meta: searchMeta{ResultCount: 3, NextToken: "p2"},
			},
			"p2": {
				// id 3 repeats across the page boundary
				Data: []tweet{tw(3, day1.Add(10*time.Hour)), tw(2, day1.Add(5*time.Hour)), tw(1, day1)},
				Meta: searchMeta{ResultCount: 3},
			},
		},
	}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	var waits []time.Duration
	res := newClient(srv, &waits).Fetch(context.Background(), "bitcoin", day1, day1.Add(24*time.Hour-time.Second), 0, 100)

	require.Len(t, res.Messages, 5)
	for i, m := range res.Messages {
		assert.Equal(t, int64(i+1), m.ID)
		assert.Equal(t, models.SourceTwitter, m.Source)
		assert.Equal(t, "bitcoin", m.Origin)
	}
	assert.Equal(t, []time.Duration{21 * time.Second}, waits)
	assert.Empty(t, res.Diagnostics)

	q := s.requests[0].URL.Query()
	assert.Equal(t, "2024-03-01T00:00:00Z", q.Get("start_time"))
	assert.Equal(t, "2024-03-02T00:00:00Z", q.Get("end_time"), "end is widened by one second")
	assert.Equal(t, "100", q.Get("max_results"))
	assert.Equal(t, "p2", s.requests[2].URL.Query().Get("next_token"))
}

func TestFetchCapsKeepNewest(t *testing.T) {
	s := &searchServer{pages: map[string]searchResponse{
		"": {
			Data: []tweet{tw(3, day1.Add(3*time.Hour)), tw(2, day1.Add(2*time.Hour)), tw(1, day1.Add(time.Hour))},
			Meta: searchMeta{NextToken: "more"},
		},
	}}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	var waits []time.Duration
	res := newClient(srv, &waits).Fetch(context.Background(), "btc", day1, day1.Add(24*time.Hour), 2, 5)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, int64(2), res.Messages[0].ID)
	assert.Equal(t, int64(3), res.Messages[1].ID)
	assert.Equal(t, "10", s.requests[0].URL.Query().Get("max_results"))
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.DiagClipped, res.Diagnostics[0].Kind)
}

func TestFetchClampsEndToNow(t *testing.T) {
	s := &searchServer{pages: map[string]searchResponse{"": {}}}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	var waits []time.Duration
	today := now.Truncate(24 * time.Hour)
	res := newClient(srv, &waits).Fetch(context.Background(), "btc", today, today.Add(24*time.Hour-time.Second), 0, 100)

	assert.Equal(t, "2024-03-02T11:59:50Z", s.requests[0].URL.Query().Get("end_time"))
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.DiagTailGap, res.Diagnostics[0].Kind)
}

func TestFetchRejectedTokenIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"title":"Unauthorized"}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	res := newClient(srv, &waits).Fetch(context.Background(), "btc", day1, day1.Add(time.Hour), 0, 100)

	assert.Empty(t, res.Messages)
	assert.True(t, res.Unavailable())
}

func TestFetchWindowBeyondHorizon(t *testing.T) {
	var waits []time.Duration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	}))
	defer srv.Close()

	old := now.Add(-30 * 24 * time.Hour)
	res := newClient(srv, &waits).Fetch(context.Background(), "btc", old, old.Add(24*time.Hour), 0, 100)

	assert.Empty(t, res.Messages)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, models.DiagTailGap, res.Diagnostics[0].Kind)
}
