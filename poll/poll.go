// Package poll runs price-check sweeps over every tracked item.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wishlist-notifier/pkg/wishlist"
)

// PriceFinder looks up the cheapest current offer for a product query.
type PriceFinder interface {
	FindLowestPrice(ctx context.Context, keyword string) (*wishlist.Offer, bool)
}

// Store is the record store subset the sweep needs.
type Store interface {
	ListAll(ctx context.Context) ([]*wishlist.TrackedItem, error)
	UpdatePriceFields(ctx context.Context, owner, query string, price float64, source string, at time.Time) (bool, error)
}

// Notifier delivers price-drop messages.
type Notifier interface {
	NotifyPriceDrop(ctx context.Context, userID string, drop *wishlist.PriceDrop) error
}

// History holds the last observed price per item across sweeps.
type History interface {
	Get(key wishlist.Key) (float64, bool)
	Set(key wishlist.Key, price float64)
}

// Config configures the monitor.
type Config struct {
	// ItemDelay is the pause between two items. Default: 2s. Negative
	// disables it.
	ItemDelay time.Duration
	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.ItemDelay == 0 {
		c.ItemDelay = 2 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ItemFailure records one item that could not be checked.
type ItemFailure struct {
	OwnerID      string `json:"owner_id"`
	ProductQuery string `json:"product_query"`
	Error        string `json:"error"`
}

// Summary describes the outcome of one sweep.
type Summary struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Failures   []ItemFailure `json:"failures,omitempty"`
	Total      int           `json:"total"`
	Checked    int           `json:"checked"`
	Skipped    int           `json:"skipped"`
	Notified   int           `json:"notified"`
	Failed     int           `json:"failed"`
}

// Monitor handles the price-check sweep.
type Monitor struct {
	finder   PriceFinder
	store    Store
	notifier Notifier
	history  History
	logger   *slog.Logger
	config   Config
}

// New creates a new monitor.
func New(finder PriceFinder, store Store, notifier Notifier, history History, cfg Config, logger *slog.Logger) *Monitor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		finder:   finder,
		store:    store,
		notifier: notifier,
		history:  history,
		logger:   logger,
		config:   cfg,
	}
}

type itemOutcome int

const (
	outcomeChecked itemOutcome = iota
	outcomeSkipped
	outcomeNotified
)

// CheckAll checks every tracked item once, sequentially. A failing item is
// logged and recorded in the summary; only a failure to list items or a
// cancelled context ends the sweep early.
func (m *Monitor) CheckAll(ctx context.Context) (*Summary, error) {
	sum := &Summary{StartedAt: m.config.Now()}

	items, err := m.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	sum.Total = len(items)
	m.logger.Info("Starting price check sweep", "items", len(items), "timestamp", sum.StartedAt.Format(time.RFC3339))

	for i, item := range items {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				m.logger.Info("Context cancelled, stopping sweep", "remaining", len(items)-i, "error", err)
				sum.FinishedAt = m.config.Now()
				return sum, err
			}
		}

		outcome, err := m.safeCheckItem(ctx, item)
		if err != nil {
			m.logger.Warn("Item check failed",
				"owner", item.OwnerID,
				"product", item.ProductQuery,
				"error", err)
			sum.Failed++
			sum.Failures = append(sum.Failures, ItemFailure{
				OwnerID:      item.OwnerID,
				ProductQuery: item.ProductQuery,
				Error:        err.Error(),
			})
			continue
		}

		switch outcome {
		case outcomeSkipped:
			sum.Skipped++
		case outcomeNotified:
			sum.Checked++
			sum.Notified++
		default:
			sum.Checked++
		}
	}

	sum.FinishedAt = m.config.Now()
	m.logger.Info("Price check sweep completed",
		"total", sum.Total,
		"checked", sum.Checked,
		"skipped", sum.Skipped,
		"notified", sum.Notified,
		"failed", sum.Failed,
		"duration_ms", sum.FinishedAt.Sub(sum.StartedAt).Milliseconds())
	return sum, nil
}

func (m *Monitor) pause(ctx context.Context) error {
	if m.config.ItemDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.config.ItemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// safeCheckItem turns a panic in any collaborator into an item failure.
func (m *Monitor) safeCheckItem(ctx context.Context, item *wishlist.TrackedItem) (outcome itemOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.checkItem(ctx, item)
}

func (m *Monitor) checkItem(ctx context.Context, item *wishlist.TrackedItem) (itemOutcome, error) {
	m.logger.Info("Checking item", "owner", item.OwnerID, "product", item.ProductQuery)

	offer, ok := m.finder.FindLowestPrice(ctx, item.ProductQuery)
	if !ok {
		m.logger.Info("No price found, skipping item", "owner", item.OwnerID, "product", item.ProductQuery)
		return outcomeSkipped, nil
	}

	key := item.Key()
	previous, known := m.history.Get(key)
	if !known && item.HasPrice() {
		previous, known = item.LastKnownPrice, true
	}

	// The observation is persisted whether or not the price went down.
	updated, err := m.store.UpdatePriceFields(ctx, item.OwnerID, item.ProductQuery, offer.Price, offer.Source, m.config.Now())
	if err != nil {
		return outcomeChecked, fmt.Errorf("update price fields: %w", err)
	}
	if !updated {
		m.logger.Warn("Item disappeared before price update", "owner", item.OwnerID, "product", item.ProductQuery)
	}

	outcome := outcomeChecked
	if known && offer.Price < previous {
		drop := &wishlist.PriceDrop{
			Product:  item.ProductQuery,
			OldPrice: previous,
			NewPrice: offer.Price,
			Source:   offer.Source,
			URL:      offer.URL,
		}
		m.logger.Info("Price drop detected",
			"owner", item.OwnerID,
			"product", item.ProductQuery,
			"old_price", previous,
			"new_price", offer.Price,
			"source", offer.Source)

		if err := m.notifier.NotifyPriceDrop(ctx, item.OwnerID, drop); err != nil {
			// The price update above stays in place.
			m.logger.Error("Failed to send price drop notification", "owner", item.OwnerID, "product", item.ProductQuery, "error", err)
		} else {
			outcome = outcomeNotified
		}
	}

	m.history.Set(key, offer.Price)
	return outcome, nil
}
