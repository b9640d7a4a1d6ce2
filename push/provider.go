// Package push delivers chat messages to users via pluggable providers.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wishlist-notifier/pkg/wishlist"
)

// Provider defines the interface for message delivery implementations.
type Provider interface {
	// Send pushes a plain text message to a user.
	Send(ctx context.Context, userID, text string) error
}

// Sender sends notification messages using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// Notify pushes an arbitrary text message to a user.
func (s *Sender) Notify(ctx context.Context, userID, text string) error {
	if err := s.provider.Send(ctx, userID, text); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// NotifyPriceDrop pushes a price-drop alert to a user.
func (s *Sender) NotifyPriceDrop(ctx context.Context, userID string, drop *wishlist.PriceDrop) error {
	s.logger.Info("Sending price drop notification",
		"user", userID,
		"product", drop.Product,
		"old_price", drop.OldPrice,
		"new_price", drop.NewPrice)

	return s.Notify(ctx, userID, FormatPriceDrop(drop))
}

// FormatPriceDrop renders the zh-TW price-drop alert.
func FormatPriceDrop(drop *wishlist.PriceDrop) string {
	var b strings.Builder
	b.WriteString("🔔 價格下降通知！\n\n")
	fmt.Fprintf(&b, "商品：%s\n", drop.Product)
	fmt.Fprintf(&b, "原價：%s\n", wishlist.FormatPrice(drop.OldPrice))
	fmt.Fprintf(&b, "現價：%s\n", wishlist.FormatPrice(drop.NewPrice))
	fmt.Fprintf(&b, "降幅：%s (-%s%%)\n", wishlist.FormatPrice(drop.Diff()), drop.PercentOff())
	fmt.Fprintf(&b, "來源：%s", drop.Source)
	if drop.URL != "" {
		fmt.Fprintf(&b, "\n\n🔗 前往購買：%s", drop.URL)
	}
	return b.String()
}
