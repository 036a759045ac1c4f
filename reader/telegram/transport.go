// Package telegram reads channel and group history through an HTTP gateway
// that fronts an authenticated MTProto session.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentiflow/config"
	ratemetrics "sentiflow/internal/metrics/rate"
	"sentiflow/logger"
	"sentiflow/models"
	"sentiflow/reader"
)

// Transport implements reader.Transport against the gateway endpoint
// GET {base}/channels/{origin}/messages.
type Transport struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Log
	now        func() time.Time
}

// NewTransport creates a Transport from the telegram section of the config.
func NewTransport(cfg config.TelegramConfig) *Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{
		baseURL:    strings.TrimRight(cfg.GatewayURL, "/"),
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.GetLogger(),
		now:        time.Now,
	}
}

// NewFetcher wires a Transport into a reader.Fetcher.
func NewFetcher(cfg config.TelegramConfig) *reader.Fetcher {
	return reader.NewFetcher(models.SourceTelegram, NewTransport(cfg), cfg.Retry)
}

type gatewayMessage struct {
	ID   int64  `json:"id"`
	Date int64  `json:"date"`
	Text string `json:"text"`
}

type gatewayPage struct {
	Messages []gatewayMessage `json:"messages"`
}

type gatewayError struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after"`
}

// FetchPage returns messages strictly after the request offset, oldest first.
func (t *Transport) FetchPage(ctx context.Context, req reader.PageRequest) ([]models.RawMessage, error) {
	origin := req.Origin.String()

	q := url.Values{}
	q.Set("offset_date", strconv.FormatInt(req.OffsetDate.Unix(), 10))
	q.Set("offset_id", strconv.FormatInt(req.OffsetID, 10))
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("reverse", "true")
	endpoint := fmt.Sprintf("%s/channels/%s/messages?%s", t.baseURL, url.PathEscape(origin), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request for %s: %w", origin, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, t.classify(resp, body, origin)
	}

	var page gatewayPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode gateway page: %w", err)
	}

	// Media-only posts come back with empty text. They stay in the page so
	// the fetcher sees the real page length and keeps cursoring past them.
	out := make([]models.RawMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		out = append(out, models.RawMessage{
			Source:    models.SourceTelegram,
			Origin:    origin,
			ID:        m.ID,
			Timestamp: time.Unix(m.Date, 0).UTC(),
			Text:      m.Text,
		})
	}

	t.log.WithComponent("telegram_reader").WithFields(logger.Fields{
		"origin":   origin,
		"returned": len(out),
	}).Debug("fetched gateway page")
	return out, nil
}

// classify maps a non-200 gateway reply onto the reader error taxonomy.
func (t *Transport) classify(resp *http.Response, body []byte, origin string) error {
	var gerr gatewayError
	_ = json.Unmarshal(body, &gerr)
	msg := gerr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	upper := strings.ToUpper(msg)

	switch {
	case resp.StatusCode == 420 || resp.StatusCode == http.StatusTooManyRequests ||
		ratemetrics.IsRateLimitMessage(models.SourceTelegram, msg):
		wait := time.Duration(gerr.RetryAfter) * time.Second
		if gerr.RetryAfter <= 0 {
			if d, ok := ratemetrics.WaitFromHeaders(resp.Header, t.now()); ok {
				wait = d
			} else if d, ok := ratemetrics.WaitFromMessage(msg); ok {
				wait = d
			}
		}
		return &reader.RetryAfterError{Wait: wait, Reason: msg}

	case resp.StatusCode == http.StatusNotFound,
		strings.Contains(upper, "USERNAME_INVALID"),
		strings.Contains(upper, "USERNAME_NOT_OCCUPIED"),
		strings.Contains(upper, "CHANNEL_INVALID"):
		return fmt.Errorf("%s: %s: %w", origin, msg, reader.ErrOriginNotFound)

	case resp.StatusCode == http.StatusForbidden,
		strings.Contains(upper, "CHANNEL_PRIVATE"),
		strings.Contains(upper, "CHAT_ADMIN_REQUIRED"):
		return fmt.Errorf("%s: %s: %w", origin, msg, reader.ErrAccessDenied)

	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: %s: %w", origin, msg, reader.ErrOriginNotFound)

	default:
		return fmt.Errorf("gateway returned status %d for %s: %s", resp.StatusCode, origin, msg)
	}
}
