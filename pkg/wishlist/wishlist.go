// Package wishlist contains the core domain types for the wishlist price notifier.
package wishlist

import (
	"fmt"
	"time"
)

// TrackedItem is one user's wishlist entry with optional last-known pricing.
type TrackedItem struct {
	AddedAt         time.Time `json:"added_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at,omitzero"` // Zero until the first successful sweep
	OwnerID         string    `json:"owner_id"`
	ProductQuery    string    `json:"product_query"`
	LastKnownSource string    `json:"last_known_source,omitempty"`
	LastKnownPrice  float64   `json:"last_known_price,omitempty"` // 0 means unknown
}

// Key returns the (owner, query) identity of the item.
func (t *TrackedItem) Key() Key {
	return Key{Owner: t.OwnerID, Query: t.ProductQuery}
}

// HasPrice reports whether a last-known price was ever recorded.
func (t *TrackedItem) HasPrice() bool {
	return t.LastKnownPrice > 0
}

// Key identifies a tracked item. Unique per owner by convention only.
type Key struct {
	Owner string
	Query string
}

func (k Key) String() string {
	return k.Owner + ":" + k.Query
}

// Offer is one normalized priced listing from a source for a keyword.
type Offer struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Source   string  `json:"source"`
	ImageURL string  `json:"image_url,omitempty"`
	Price    float64 `json:"price"`
	Rating   float64 `json:"rating,omitempty"` // Average stars, 0 if the source has none
	Sold     int64   `json:"sold,omitempty"`
}

// Valid reports whether the offer may be admitted into a comparison result.
func (o *Offer) Valid() bool {
	return o != nil && o.Title != "" && o.Price > 0
}

// PriceDrop describes a detected decrease for a tracked product.
type PriceDrop struct {
	Product  string
	Source   string
	URL      string // Optional purchase link
	OldPrice float64
	NewPrice float64
}

// Diff returns the absolute decrease, rounded to cents.
func (d *PriceDrop) Diff() float64 {
	return NormalizePrice(d.OldPrice - d.NewPrice)
}

// PercentOff returns the relative decrease with one decimal, e.g. "20.0".
func (d *PriceDrop) PercentOff() string {
	if d.OldPrice <= 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", d.Diff()/d.OldPrice*100)
}
