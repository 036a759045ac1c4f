// Package twitter reads X API v2 recent search results for a query.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"sentiflow/config"
	ratemetrics "sentiflow/internal/metrics/rate"
	"sentiflow/logger"
	"sentiflow/models"
	"sentiflow/reader"
)

const (
	searchPath = "/2/tweets/search/recent"
	// the API rejects end_time values closer than 10s to now
	endTimeLag = 10 * time.Second
	// recent search only covers the last seven days
	searchHorizon = 7*24*time.Hour - time.Minute
)

// Client pages through recent search with next_token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      config.RetryConfig
	sleep      reader.Sleeper
	now        func() time.Time
	log        *logger.Log
}

// NewClient creates a Client from the twitter section of the config.
func NewClient(cfg config.TwitterConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.twitter.com"
	}
	return &Client{
		baseURL:    base,
		token:      cfg.BearerToken,
		httpClient: &http.Client{Timeout: timeout},
		retry:      cfg.Retry,
		sleep:      reader.SleepContext,
		now:        time.Now,
		log:        logger.GetLogger(),
	}
}

// WithSleeper replaces the rate-limit sleeper.
func (c *Client) WithSleeper(s reader.Sleeper) *Client {
	c.sleep = s
	return c
}

// WithClock replaces the clock used to clamp the search window.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

type searchResponse struct {
	Data []tweet     `json:"data"`
	Meta searchMeta  `json:"meta"`
	Errs []apiDetail `json:"errors"`
}

type tweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

type searchMeta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
}

type apiDetail struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Fetch returns tweets matching query in [start, end], oldest first,
// deduplicated by id and capped at totalLimit (newest kept) when positive.
// The query doubles as the origin of every record.
func (c *Client) Fetch(ctx context.Context, query string, start, end time.Time, totalLimit, pageSize int) reader.FetchResult {
	start, end = start.UTC(), end.UTC()
	res := reader.FetchResult{Source: models.SourceTwitter, Origin: query}
	log := c.log.WithComponent("twitter_reader").WithFields(logger.Fields{
		"query": query,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	})

	now := c.now().UTC()
	upstreamStart := start
	if horizon := now.Add(-searchHorizon); upstreamStart.Before(horizon) {
		upstreamStart = horizon.Truncate(time.Second)
	}
	// end_time is exclusive upstream
	upstreamEnd := end.Add(time.Second)
	if latest := now.Add(-endTimeLag); upstreamEnd.After(latest) {
		upstreamEnd = latest.Truncate(time.Second)
	}

	if !upstreamStart.Before(upstreamEnd) {
		log.Warn("search window is outside the recent search range")
		res.Diagnostics = append(res.Diagnostics, reader.Completeness(models.SourceTwitter, query, nil, start, totalLimit)...)
		return res
	}

	backoff := reader.NewBackoff(c.retry, c.sleep)
	seen := make(map[int64]struct{})
	var collected []models.RawMessage
	nextToken := ""
	pages := 0

walk:
	for {
		page, headers, err := c.searchPage(ctx, query, upstreamStart, upstreamEnd, clampPageSize(pageSize), nextToken)
		if headers != nil {
			ratemetrics.ReportRemaining(c.log, models.SourceTwitter, headers)
		}
		if err != nil {
			retry, d := backoff.Handle(ctx, c.log, models.SourceTwitter, query, err)
			if retry {
				continue
			}
			if d.Kind == models.DiagOriginUnavailable {
				res.Diagnostics = []models.Diagnostic{*d}
				return res
			}
			res.Diagnostics = append(res.Diagnostics, *d)
			break
		}

		pages++
		for _, tw := range page.Data {
			m, ok := toMessage(tw, query)
			if !ok || m.Timestamp.Before(start) || m.Timestamp.After(end) {
				continue
			}
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			collected = append(collected, m)
			if totalLimit > 0 && len(collected) >= totalLimit {
				break walk
			}
		}

		if page.Meta.NextToken == "" {
			break
		}
		if page.Meta.NextToken == nextToken {
			log.Warn("next_token did not advance, stopping")
			break
		}
		nextToken = page.Meta.NextToken
	}

	sort.Slice(collected, func(i, j int) bool {
		if collected[i].Timestamp.Equal(collected[j].Timestamp) {
			return collected[i].ID < collected[j].ID
		}
		return collected[i].Timestamp.Before(collected[j].Timestamp)
	})
	res.Messages = collected
	res.Diagnostics = append(res.Diagnostics, reader.Completeness(models.SourceTwitter, query, collected, start, totalLimit)...)

	log.WithFields(logger.Fields{
		"tweets":  len(collected),
		"pages":   pages,
		"retries": backoff.Attempts(),
	}).Info("query fetch finished")
	return res
}

func (c *Client) searchPage(ctx context.Context, query string, start, end time.Time, maxResults int, nextToken string) (*searchResponse, http.Header, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("start_time", start.Format(time.RFC3339))
	q.Set("end_time", end.Format(time.RFC3339))
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("tweet.fields", "created_at")
	if nextToken != "" {
		q.Set("next_token", nextToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "sentiflow/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read search response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, _ := ratemetrics.WaitFromHeaders(resp.Header, c.now())
		return nil, resp.Header, &reader.RetryAfterError{Wait: wait, Reason: "too many requests"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resp.Header, fmt.Errorf("search returned %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), reader.ErrAccessDenied)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, resp.Header, fmt.Errorf("search rejected query: %s: %w", strings.TrimSpace(string(body)), reader.ErrOriginNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, resp.Header, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, resp.Header, fmt.Errorf("decode search response: %w", err)
	}
	return &out, resp.Header, nil
}

func toMessage(tw tweet, query string) (models.RawMessage, bool) {
	id, err := strconv.ParseInt(tw.ID, 10, 64)
	if err != nil {
		return models.RawMessage{}, false
	}
	ts, err := time.Parse(time.RFC3339, tw.CreatedAt)
	if err != nil {
		return models.RawMessage{}, false
	}
	if strings.TrimSpace(tw.Text) == "" {
		return models.RawMessage{}, false
	}
	return models.RawMessage{
		Source:    models.SourceTwitter,
		Origin:    query,
		ID:        id,
		Timestamp: ts.UTC(),
		Text:      tw.Text,
	}, true
}

func clampPageSize(n int) int {
	switch {
	case n < 10:
		return 10
	case n > 100:
		return 100
	default:
		return n
	}
}
