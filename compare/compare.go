// Package compare merges offers from every source into one price-sorted list.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"wishlist-notifier/pkg/wishlist"
)

// Source searches one retailer. Implementations must not fail: they return
// no offers instead.
type Source interface {
	Name() string
	Search(ctx context.Context, keyword string) []*wishlist.Offer
}

// Aggregator fans a keyword out to all sources.
type Aggregator struct {
	logger  *slog.Logger
	sources []Source
}

// New creates an aggregator over sources. Registration order breaks price ties.
func New(logger *slog.Logger, sources ...Source) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		logger:  logger,
		sources: sources,
	}
}

// ComparePrices searches every source concurrently and returns all valid
// offers sorted ascending by price. It waits for the slowest source.
func (a *Aggregator) ComparePrices(ctx context.Context, keyword string) []*wishlist.Offer {
	a.logger.Info("Comparing prices", "keyword", keyword, "sources", len(a.sources))

	results := make([][]*wishlist.Offer, len(a.sources))
	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			results[i] = a.search(ctx, src, keyword)
			return nil
		})
	}
	_ = g.Wait() // search never returns an error

	var merged []*wishlist.Offer
	for i, offers := range results {
		a.logger.Info("Source results", "keyword", keyword, "source", a.sources[i].Name(), "count", len(offers))
		for _, o := range offers {
			if o.Valid() {
				merged = append(merged, o)
			}
		}
	}

	slices.SortStableFunc(merged, func(x, y *wishlist.Offer) int {
		switch {
		case x.Price < y.Price:
			return -1
		case x.Price > y.Price:
			return 1
		}
		return 0
	})
	return merged
}

// FindLowestPrice returns the cheapest offer across all sources.
func (a *Aggregator) FindLowestPrice(ctx context.Context, keyword string) (*wishlist.Offer, bool) {
	offers := a.ComparePrices(ctx, keyword)
	if len(offers) == 0 {
		return nil, false
	}
	return offers[0], true
}

// search isolates one source, turning a panic into an empty result.
func (a *Aggregator) search(ctx context.Context, src Source, keyword string) (offers []*wishlist.Offer) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Source panicked", "source", src.Name(), "keyword", keyword, "panic", fmt.Sprint(r))
			offers = nil
		}
	}()
	return src.Search(ctx, keyword)
}
