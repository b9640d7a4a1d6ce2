package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	defaultLineAPI = "https://api.line.me"
	// maxTextRunes is the LINE limit for a text message.
	maxTextRunes = 5000
)

// LineProvider sends messages via the LINE Messaging API.
type LineProvider struct {
	client     *http.Client
	logger     *slog.Logger
	token      string
	baseURL    string
	attempts   uint
	retryDelay time.Duration
}

// NewLineProvider creates a new LINE provider. An empty baseURL selects the
// public API endpoint.
func NewLineProvider(token, baseURL string, logger *slog.Logger) *LineProvider {
	if baseURL == "" {
		baseURL = defaultLineAPI
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LineProvider{
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		attempts:   3,
		retryDelay: time.Second,
	}
}

type lineTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type linePushRequest struct {
	To       string            `json:"to"`
	Messages []lineTextMessage `json:"messages"`
}

type lineReplyRequest struct {
	ReplyToken string            `json:"replyToken"`
	Messages   []lineTextMessage `json:"messages"`
}

// Send pushes a text message to a user.
func (l *LineProvider) Send(ctx context.Context, userID, text string) error {
	return l.post(ctx, "/v2/bot/message/push", userID, linePushRequest{
		To:       userID,
		Messages: []lineTextMessage{{Type: "text", Text: truncate(text)}},
	})
}

// Reply answers a webhook event using its reply token.
func (l *LineProvider) Reply(ctx context.Context, replyToken, text string) error {
	return l.post(ctx, "/v2/bot/message/reply", "", lineReplyRequest{
		ReplyToken: replyToken,
		Messages:   []lineTextMessage{{Type: "text", Text: truncate(text)}},
	})
}

func (l *LineProvider) post(ctx context.Context, endpoint, to string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			l.logger.Info("LINE API request starting",
				"method", "POST",
				"endpoint", endpoint,
				"to", to)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+l.token)

			resp, err := l.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				l.logger.Warn("LINE API request failed, will retry",
					"endpoint", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					l.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
				statusErr := fmt.Errorf("LINE API %s: HTTP %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					l.logger.Error("LINE API rejected request",
						"endpoint", endpoint,
						"status_code", resp.StatusCode)
					return retry.Unrecoverable(statusErr)
				}
				l.logger.Warn("LINE API returned non-2xx status, will retry",
					"endpoint", endpoint,
					"status_code", resp.StatusCode)
				return statusErr
			}

			l.logger.Info("LINE API request completed",
				"endpoint", endpoint,
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(l.attempts),
		retry.Delay(l.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(l.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Info("Retrying LINE API request after error", "attempt", n, "endpoint", endpoint, "error", err)
		}),
	)
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxTextRunes {
		return text
	}
	return string(r[:maxTextRunes-1]) + "…"
}
