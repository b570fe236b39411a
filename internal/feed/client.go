// Package feed fetches and decodes the external announcement feed. The
// upstream endpoint is a legacy ASMX-style service: the JSON payload may be
// wrapped in an XML <string> container and is itself double-encoded (a JSON
// string containing the JSON array).
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raqeeb-app/raqeeb/pkg/logger"
	"github.com/raqeeb-app/raqeeb/pkg/metrics"
)

// Terminal failure modes surfaced by Fetch. Decode-class errors are never
// retried; ErrUnavailable is returned once the retry budget is exhausted.
var (
	ErrUnavailable   = errors.New("feed: unavailable")
	ErrEmptyResponse = errors.New("feed: empty response")
	ErrDecode        = errors.New("feed: decode failed")
	ErrFormat        = errors.New("feed: decoded payload is not an array")
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
)

// stringWrapper matches the legacy XML string container some responses
// arrive in.
var stringWrapper = regexp.MustCompile(`(?s)<string[^>]*>(.*)</string>`)

// Config controls the feed client.
type Config struct {
	URL           string
	DetailBaseURL string // announcement details link, external id appended
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
}

// Record is one validated announcement from the feed.
type Record struct {
	ExternalID  string
	Title       string
	Description string
	SourceURL   string
	PublishedAt time.Time
}

// RecordError reports a single record that failed validation and was
// excluded from the result.
type RecordError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Client fetches announcements with bounded retries.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// NewClient builds a feed client, applying defaults for unset options.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("feed: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.WithModule("feed"),
	}, nil
}

// Fetch retrieves the feed, unwraps the legacy encoding and validates each
// record. Invalid records are dropped and reported individually; only
// transport-level failures abort the fetch.
func (c *Client) Fetch(ctx context.Context) ([]Record, []RecordError, error) {
	body, err := c.fetchBody(ctx)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("failure").Inc()
		return nil, nil, err
	}

	raw, err := decodePayload(body)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("failure").Inc()
		return nil, nil, err
	}

	records := make([]Record, 0, len(raw))
	var dropped []RecordError
	for i, item := range raw {
		record, recErr := validateRecord(item)
		if recErr != nil {
			dropped = append(dropped, *recErr)
			c.log.Warn("dropping invalid feed record",
				zap.Int("index", i),
				zap.String("id", recErr.ID),
				zap.String("reason", recErr.Reason),
			)
			continue
		}
		if record.SourceURL == "" && c.cfg.DetailBaseURL != "" {
			record.SourceURL = c.cfg.DetailBaseURL + record.ExternalID
		}
		records = append(records, record)
	}

	metrics.FeedFetches.WithLabelValues("success").Inc()
	c.log.Info("feed fetched",
		zap.Int("records", len(records)),
		zap.Int("dropped", len(dropped)),
	)
	return records, dropped, nil
}

// fetchBody performs the HTTP request with exponential backoff. Only
// network failures and 5xx responses are retried.
func (c *Client) fetchBody(ctx context.Context) (string, error) {
	var lastErr error

	backoff := c.cfg.BackoffBase
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, retryable, err := c.attempt(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		c.log.Warn("feed fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context) (body string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return "", false, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "ar-SA,ar;q=0.9,en;q=0.7")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "raqeeb/1.0 (+announcement monitor)")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("feed: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("feed: read body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("feed: upstream status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	if len(data) == 0 {
		return "", false, ErrEmptyResponse
	}

	return string(data), false, nil
}

// decodePayload unwraps the optional XML string container, then decodes the
// double-encoded JSON: the first decode may yield a string that itself
// contains the actual array.
func decodePayload(body string) ([]json.RawMessage, error) {
	text := body
	if m := stringWrapper.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var first any
	if err := json.Unmarshal([]byte(text), &first); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// One extra layer of string-encoding at most: if the first decode
	// yields a string, that string holds the actual array.
	if inner, ok := first.(string); ok {
		text = inner
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		if json.Valid([]byte(text)) {
			return nil, ErrFormat
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return items, nil
}
