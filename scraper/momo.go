package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"wishlist-notifier/pkg/wishlist"
)

// MomoName is the source tag on every momo offer.
const MomoName = "momo"

const (
	momoBaseURL    = "https://www.momoshop.com.tw"
	momoSearchPath = "/search/searchShop.jsp"
	momoAccept     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
)

// Momo searches the momoshop HTML search page.
type Momo struct {
	fetch   *fetcher
	cfg     Config
	baseURL *url.URL
}

// NewMomo creates a momo source.
func NewMomo(cfg Config) *Momo {
	cfg.defaults(momoBaseURL)
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		cfg.Logger.Warn("Invalid base URL, using default", "source", MomoName, "base_url", cfg.BaseURL, "error", err)
		base = &url.URL{Scheme: "https", Host: "www.momoshop.com.tw"}
		cfg.BaseURL = momoBaseURL
	}
	return &Momo{
		fetch:   newFetcher(cfg, MomoName),
		cfg:     cfg,
		baseURL: base,
	}
}

// Name returns the source tag.
func (m *Momo) Name() string { return MomoName }

// Search returns up to ten offers for keyword, or nil on any failure.
func (m *Momo) Search(ctx context.Context, keyword string) []*wishlist.Offer {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("searchType", "1")
	q.Set("cateLevel", "-1")
	q.Set("curPage", "1")
	q.Set("maxPage", "1")
	searchURL := m.cfg.BaseURL + momoSearchPath + "?" + q.Encode()

	body, err := m.fetch.get(ctx, searchURL, momoAccept, m.cfg.BaseURL)
	if err != nil {
		m.cfg.Logger.Warn("Source search failed", "source", MomoName, "keyword", keyword, "error", err)
		return nil
	}

	offers, err := parseMomo(bytes.NewReader(body), m.baseURL)
	if err != nil {
		m.cfg.Logger.Warn("Failed to parse search page", "source", MomoName, "keyword", keyword, "error", err)
		return nil
	}

	m.cfg.Logger.Info("Source search completed", "source", MomoName, "keyword", keyword, "offers", len(offers))
	return offers
}

// parseMomo extracts offers from a search result page. The primary item
// selector is tried first; the looser fallback selectors only run when the
// primary one yields nothing usable.
func parseMomo(r io.Reader, base *url.URL) ([]*wishlist.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var offers []*wishlist.Offer
	doc.Find("li.goodsItemLi").Each(func(_ int, s *goquery.Selection) {
		title := cleanTitle(s.Find(".prdName").Text())
		price, ok := wishlist.ParsePrice(strings.TrimSpace(s.Find(".price b").Text()))
		if title == "" || !ok {
			return
		}
		href, _ := s.Find("a.goodsUrl").Attr("href")
		image, _ := s.Find("img.goodsImg").Attr("src")
		offers = append(offers, &wishlist.Offer{
			Title:    title,
			Price:    price,
			URL:      resolveURL(base, href),
			Source:   MomoName,
			ImageURL: image,
		})
	})

	if len(offers) == 0 {
		doc.Find(".listArea li").Each(func(_ int, s *goquery.Selection) {
			title := cleanTitle(s.Find(`.goodsName, .prdName, [class*="name"]`).First().Text())
			price, ok := wishlist.ParsePrice(s.Find(`.price, [class*="price"]`).First().Text())
			if title == "" || !ok {
				return
			}
			href, _ := s.Find("a").First().Attr("href")
			offers = append(offers, &wishlist.Offer{
				Title:  title,
				Price:  price,
				URL:    resolveURL(base, href),
				Source: MomoName,
			})
		})
	}

	if len(offers) > maxOffers {
		offers = offers[:maxOffers]
	}
	return offers, nil
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return base.String() + href
	}
	return base.ResolveReference(ref).String()
}
