// Package scraper searches retail sources for priced product offers.
//
// Search never returns an error: failures are logged and yield no offers.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/microcosm-cc/bluemonday"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	acceptLanguage = "zh-TW,zh;q=0.9,en;q=0.8"
	maxBodyBytes   = 5 << 20
	maxOffers      = 10
)

// HTTPStatusError indicates a non-200 response from a source.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsBlocked reports whether err is a 403 or 429 response. Blocked requests
// are not retried.
func IsBlocked(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusForbidden || statusErr.StatusCode == http.StatusTooManyRequests
}

// Config holds the settings shared by all sources.
type Config struct {
	Client *http.Client
	Logger *slog.Logger
	// BaseURL overrides the public site root (used by tests).
	BaseURL string
	// Timeout bounds one whole Search call including retries. Default: 10s.
	Timeout time.Duration
	// Attempts is the number of tries per request. Default: 3.
	Attempts uint
}

func (c *Config) defaults(baseURL string) {
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
}

// fetcher performs browser-like GET requests with retry.
type fetcher struct {
	client     *http.Client
	logger     *slog.Logger
	source     string
	attempts   uint
	retryDelay time.Duration
}

func newFetcher(cfg Config, source string) *fetcher {
	return &fetcher{
		client:     cfg.Client,
		logger:     cfg.Logger,
		source:     source,
		attempts:   cfg.Attempts,
		retryDelay: 500 * time.Millisecond,
	}
}

func (f *fetcher) get(ctx context.Context, pageURL, accept, referer string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			// Note: Don't set Accept-Encoding - let Go's http.Client handle compression automatically
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", accept)
			req.Header.Set("Accept-Language", acceptLanguage)
			if referer != "" {
				req.Header.Set("Referer", referer)
			}

			startTime := time.Now()
			resp, err := f.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				f.logger.Warn("HTTP request failed",
					"source", f.source,
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					f.logger.Warn("Failed to close response body", "source", f.source, "error", closeErr)
				}
			}()

			f.logger.Debug("HTTP request completed",
				"source", f.source,
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			body = data
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(f.retryDelay),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(f.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info("Retrying source request after error", "source", f.source, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsBlocked(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return body, nil
}

var titlePolicy = bluemonday.StrictPolicy()

// cleanTitle strips markup and collapses whitespace in a product title.
func cleanTitle(s string) string {
	s = html.UnescapeString(titlePolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}
