package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"wishlist-notifier/pkg/wishlist"
)

// ShopeeName is the source tag on every Shopee offer.
const ShopeeName = "Shopee"

const (
	shopeeBaseURL    = "https://shopee.tw"
	shopeeSearchPath = "/api/v4/search/search_items"
	shopeeImageURL   = "https://cf.shopee.tw/file/"
	shopeePageSize   = 10
	// Shopee reports prices multiplied by this factor.
	shopeePriceScale = 100000
)

// shopeeSearchResponse is the subset of the search API response we use.
type shopeeSearchResponse struct {
	Items []shopeeItem `json:"items"`
}

type shopeeItem struct {
	ItemBasic *shopeeItemBasic `json:"item_basic"`
}

type shopeeItemBasic struct {
	Rating *shopeeRating `json:"item_rating"`
	Name   string        `json:"name"`
	Image  string        `json:"image"`
	Price  int64         `json:"price"`
	Sold   int64         `json:"historical_sold"`
	ShopID int64         `json:"shopid"`
	ItemID int64         `json:"itemid"`
}

type shopeeRating struct {
	Stars float64 `json:"rating_star"`
}

// offer normalizes a raw item. It returns nil for items that must not be
// admitted into a comparison.
func (b *shopeeItemBasic) offer(baseURL string) *wishlist.Offer {
	if b == nil {
		return nil
	}
	o := &wishlist.Offer{
		Title:  cleanTitle(b.Name),
		Price:  wishlist.ScaledPrice(b.Price, shopeePriceScale),
		URL:    baseURL + "/product/" + strconv.FormatInt(b.ShopID, 10) + "/" + strconv.FormatInt(b.ItemID, 10),
		Source: ShopeeName,
		Sold:   b.Sold,
	}
	if b.Rating != nil {
		o.Rating = b.Rating.Stars
	}
	if b.Image != "" {
		o.ImageURL = shopeeImageURL + b.Image
	}
	if !o.Valid() {
		return nil
	}
	return o
}

// Shopee searches the Shopee JSON search API.
type Shopee struct {
	fetch *fetcher
	cfg   Config
}

// NewShopee creates a Shopee source.
func NewShopee(cfg Config) *Shopee {
	cfg.defaults(shopeeBaseURL)
	return &Shopee{
		fetch: newFetcher(cfg, ShopeeName),
		cfg:   cfg,
	}
}

// Name returns the source tag.
func (s *Shopee) Name() string { return ShopeeName }

// Search returns up to one page of offers for keyword, or nil on any failure.
func (s *Shopee) Search(ctx context.Context, keyword string) []*wishlist.Offer {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("limit", strconv.Itoa(shopeePageSize))
	q.Set("newest", "0")
	q.Set("order", "relevancy")
	q.Set("page_type", "search")
	q.Set("scenario", "PAGE_GLOBAL_SEARCH")
	q.Set("version", "2")
	searchURL := s.cfg.BaseURL + shopeeSearchPath + "?" + q.Encode()
	referer := s.cfg.BaseURL + "/search?keyword=" + url.QueryEscape(keyword)

	body, err := s.fetch.get(ctx, searchURL, "application/json", referer)
	if err != nil {
		s.cfg.Logger.Warn("Source search failed", "source", ShopeeName, "keyword", keyword, "error", err)
		return nil
	}

	offers, err := parseShopee(body, s.cfg.BaseURL)
	if err != nil {
		s.cfg.Logger.Warn("Failed to decode search response", "source", ShopeeName, "keyword", keyword, "error", err)
		return nil
	}

	s.cfg.Logger.Info("Source search completed", "source", ShopeeName, "keyword", keyword, "offers", len(offers))
	return offers
}

func parseShopee(body []byte, baseURL string) ([]*wishlist.Offer, error) {
	var resp shopeeSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	offers := make([]*wishlist.Offer, 0, len(resp.Items))
	for _, item := range resp.Items {
		if o := item.ItemBasic.offer(baseURL); o != nil {
			offers = append(offers, o)
		}
	}
	return offers, nil
}
