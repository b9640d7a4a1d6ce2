package push

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a message recorded by MockProvider.
type Message struct {
	UserID string
	Text   string
}

// MockProvider is a mock provider for local development and tests.
type MockProvider struct {
	logger *slog.Logger
	sent   []Message
	mu     sync.Mutex
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, userID, text string) error {
	m.mu.Lock()
	m.sent = append(m.sent, Message{UserID: userID, Text: text})
	m.mu.Unlock()

	m.logger.Info("MOCK PUSH",
		"to", userID,
		"text_length", len(text))
	return nil
}

// Reply logs the reply instead of sending it.
func (m *MockProvider) Reply(_ context.Context, replyToken, text string) error {
	m.logger.Info("MOCK REPLY",
		"reply_token", replyToken,
		"text_length", len(text))
	return nil
}

// Sent returns the messages recorded so far.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
