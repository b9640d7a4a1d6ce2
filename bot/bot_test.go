package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"wishlist-notifier/pkg/wishlist"
)

type memStore struct {
	err   error
	items []*wishlist.TrackedItem
}

func (m *memStore) Append(_ context.Context, item *wishlist.TrackedItem) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, item)
	return nil
}

func (m *memStore) Find(_ context.Context, owner, query string) (int, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	for i, it := range m.items {
		if it.OwnerID == owner && it.ProductQuery == query {
			return i, true, nil
		}
	}
	return -1, false, nil
}

func (m *memStore) Delete(_ context.Context, index int) error {
	m.items = append(m.items[:index], m.items[index+1:]...)
	return nil
}

func (m *memStore) ListByOwner(_ context.Context, owner string) ([]*wishlist.TrackedItem, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*wishlist.TrackedItem
	for _, it := range m.items {
		if it.OwnerID == owner {
			out = append(out, it)
		}
	}
	return out, nil
}

type fakeComparer struct {
	offers []*wishlist.Offer
	asked  []string
}

func (f *fakeComparer) ComparePrices(_ context.Context, keyword string) []*wishlist.Offer {
	f.asked = append(f.asked, keyword)
	return f.offers
}

type outbox struct {
	replies []string
	pushes  []string
	tokens  []string
}

func (o *outbox) Reply(_ context.Context, replyToken, text string) error {
	o.tokens = append(o.tokens, replyToken)
	o.replies = append(o.replies, text)
	return nil
}

func (o *outbox) Notify(_ context.Context, userID, text string) error {
	o.pushes = append(o.pushes, userID+": "+text)
	return nil
}

func newTestHandler(store *memStore, comparer *fakeComparer) (*Handler, *outbox) {
	out := &outbox{}
	h := New(store, comparer, out, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC) }
	return h, out
}

func TestHandleCommands(t *testing.T) {
	store := &memStore{}
	h, out := newTestHandler(store, &fakeComparer{})
	ctx := context.Background()

	steps := []struct {
		text string
		want string
	}{
		{"清單", "你的願望清單是空的"},
		{"新增 Kindle", "✅ 已將「Kindle」加入願望清單"},
		{"新增 AirPods Pro", "✅ 已將「AirPods Pro」加入願望清單"},
		{"清單", "📋 願望清單 (2 項)"},
		{"刪除 Switch", "❌ 找不到「Switch」"},
		{"刪除 Kindle", "✅ 已將「Kindle」從願望清單移除"},
		{"你好", "使用說明"},
	}
	for i, step := range steps {
		if err := h.Handle(ctx, "U1", fmt.Sprintf("tok-%d", i), step.text); err != nil {
			t.Fatalf("Handle(%q) error = %v", step.text, err)
		}
		got := out.replies[len(out.replies)-1]
		if !strings.Contains(got, step.want) {
			t.Errorf("Handle(%q) reply = %q, want it to contain %q", step.text, got, step.want)
		}
		if out.tokens[len(out.tokens)-1] != fmt.Sprintf("tok-%d", i) {
			t.Errorf("Handle(%q) used the wrong reply token", step.text)
		}
	}

	if len(store.items) != 1 || store.items[0].ProductQuery != "AirPods Pro" {
		t.Errorf("store items = %+v", store.items)
	}
	if !store.items[0].AddedAt.Equal(h.now()) {
		t.Errorf("AddedAt = %v", store.items[0].AddedAt)
	}
}

func TestHandleListShowsPrices(t *testing.T) {
	store := &memStore{items: []*wishlist.TrackedItem{
		{OwnerID: "U1", ProductQuery: "Kindle", LastKnownPrice: 3490, LastKnownSource: "momo"},
		{OwnerID: "U1", ProductQuery: "Switch 2"},
		{OwnerID: "U2", ProductQuery: "TV", LastKnownPrice: 12990, LastKnownSource: "Shopee"},
	}}
	h, out := newTestHandler(store, &fakeComparer{})

	if err := h.Handle(context.Background(), "U1", "tok", "清單"); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	want := "📋 願望清單 (2 項)\n\n1. Kindle\n   💰 最低價: $3,490 (momo)\n\n2. Switch 2"
	if out.replies[0] != want {
		t.Errorf("reply = %q, want %q", out.replies[0], want)
	}
}

func TestHandleStoreFailure(t *testing.T) {
	store := &memStore{err: errors.New("quota exceeded")}
	h, out := newTestHandler(store, &fakeComparer{})

	tests := []struct {
		text string
		want string
	}{
		{"新增 Kindle", "❌ 新增失敗，請稍後再試"},
		{"刪除 Kindle", "❌ 刪除失敗，請稍後再試"},
		{"清單", "❌ 取得清單失敗，請稍後再試"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if err := h.Handle(context.Background(), "U1", "tok", tt.text); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			got := out.replies[len(out.replies)-1]
			if got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if strings.Contains(got, "quota") {
				t.Error("internal error leaked to the user")
			}
		})
	}
}

func TestHandleCompare(t *testing.T) {
	var offers []*wishlist.Offer
	for i := range 7 {
		offers = append(offers, &wishlist.Offer{
			Title:  fmt.Sprintf("AirPods Pro #%d", i+1),
			Price:  float64(6000 + i*100),
			Source: "momo",
			URL:    fmt.Sprintf("https://example.com/%d", i+1),
		})
	}
	comparer := &fakeComparer{offers: offers}
	h, out := newTestHandler(&memStore{}, comparer)

	if err := h.Handle(context.Background(), "U1", "tok", "比價 AirPods Pro"); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(out.replies) != 1 || out.replies[0] != "🔍 正在搜尋「AirPods Pro」的最低價..." {
		t.Errorf("ack = %v", out.replies)
	}
	if len(comparer.asked) != 1 || comparer.asked[0] != "AirPods Pro" {
		t.Errorf("comparer asked %v", comparer.asked)
	}
	if len(out.pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(out.pushes))
	}
	push := out.pushes[0]
	if !strings.HasPrefix(push, "U1: 🔍 「AirPods Pro」比價結果") {
		t.Errorf("push = %q", push)
	}
	if !strings.Contains(push, "1. AirPods Pro #1\n   💰 $6,000 - momo\n   🔗 https://example.com/1") {
		t.Errorf("push missing first offer: %q", push)
	}
	if !strings.Contains(push, "5. AirPods Pro #5") || strings.Contains(push, "6. ") {
		t.Errorf("push should list exactly five offers: %q", push)
	}
}

func TestFormatComparisonNotFound(t *testing.T) {
	if got := FormatComparison("unobtainium", nil); got != "❌ 找不到「unobtainium」的相關商品" {
		t.Errorf("FormatComparison() = %q", got)
	}
}
