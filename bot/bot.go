// Package bot executes wishlist chat commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wishlist-notifier/pkg/wishlist"
)

// maxCompareResults is the number of offers listed in a comparison reply.
const maxCompareResults = 5

// Store is the record store subset the bot needs.
type Store interface {
	Append(ctx context.Context, item *wishlist.TrackedItem) error
	Find(ctx context.Context, owner, query string) (int, bool, error)
	Delete(ctx context.Context, index int) error
	ListByOwner(ctx context.Context, owner string) ([]*wishlist.TrackedItem, error)
}

// Comparer searches all sources for a keyword, cheapest first.
type Comparer interface {
	ComparePrices(ctx context.Context, keyword string) []*wishlist.Offer
}

// Replier answers a chat event.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Pusher sends an unsolicited message to a user.
type Pusher interface {
	Notify(ctx context.Context, userID, text string) error
}

// Handler executes chat commands for one user at a time.
type Handler struct {
	store    Store
	comparer Comparer
	replier  Replier
	pusher   Pusher
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new handler.
func New(store Store, comparer Comparer, replier Replier, pusher Pusher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		comparer: comparer,
		replier:  replier,
		pusher:   pusher,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle executes the command in text on behalf of userID and answers with
// replyToken. Command failures are reported to the user as a generic message;
// the returned error only covers delivery.
func (h *Handler) Handle(ctx context.Context, userID, replyToken, text string) error {
	cmd := Parse(text)
	h.logger.Info("Handling chat command", "user", userID, "action", cmd.Action.String(), "product", cmd.Product)

	if cmd.Action == ActionCompare {
		return h.compare(ctx, userID, replyToken, cmd.Product)
	}

	var reply string
	switch cmd.Action {
	case ActionAdd:
		reply = h.add(ctx, userID, cmd.Product)
	case ActionDelete:
		reply = h.remove(ctx, userID, cmd.Product)
	case ActionList:
		reply = h.list(ctx, userID)
	default:
		reply = HelpMessage
	}

	if err := h.replier.Reply(ctx, replyToken, reply); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func (h *Handler) add(ctx context.Context, userID, product string) string {
	item := &wishlist.TrackedItem{
		OwnerID:      userID,
		ProductQuery: product,
		AddedAt:      h.now(),
	}
	if err := h.store.Append(ctx, item); err != nil {
		h.logger.Error("Failed to add wishlist item", "user", userID, "product", product, "error", err)
		return "❌ 新增失敗，請稍後再試"
	}
	return fmt.Sprintf("✅ 已將「%s」加入願望清單", product)
}

func (h *Handler) remove(ctx context.Context, userID, product string) string {
	index, found, err := h.store.Find(ctx, userID, product)
	if err == nil && found {
		err = h.store.Delete(ctx, index)
	}
	if err != nil {
		h.logger.Error("Failed to delete wishlist item", "user", userID, "product", product, "error", err)
		return "❌ 刪除失敗，請稍後再試"
	}
	if !found {
		return fmt.Sprintf("❌ 找不到「%s」", product)
	}
	return fmt.Sprintf("✅ 已將「%s」從願望清單移除", product)
}

func (h *Handler) list(ctx context.Context, userID string) string {
	items, err := h.store.ListByOwner(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to list wishlist items", "user", userID, "error", err)
		return "❌ 取得清單失敗，請稍後再試"
	}
	if len(items) == 0 {
		return "📋 你的願望清單是空的\n\n使用「新增 商品名稱」來加入商品"
	}

	lines := make([]string, 0, len(items))
	for i, item := range items {
		line := fmt.Sprintf("%d. %s", i+1, item.ProductQuery)
		if item.HasPrice() {
			line += fmt.Sprintf("\n   💰 最低價: %s (%s)", wishlist.FormatPrice(item.LastKnownPrice), item.LastKnownSource)
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("📋 願望清單 (%d 項)\n\n%s", len(items), strings.Join(lines, "\n\n"))
}

// compare answers the reply token with an acknowledgement and pushes the
// result once the search completes.
func (h *Handler) compare(ctx context.Context, userID, replyToken, product string) error {
	if err := h.replier.Reply(ctx, replyToken, fmt.Sprintf("🔍 正在搜尋「%s」的最低價...", product)); err != nil {
		h.logger.Warn("Failed to acknowledge compare command", "user", userID, "error", err)
	}

	offers := h.comparer.ComparePrices(ctx, product)
	if err := h.pusher.Notify(ctx, userID, FormatComparison(product, offers)); err != nil {
		return fmt.Errorf("push comparison: %w", err)
	}
	return nil
}

// FormatComparison renders the cheapest offers for product, or a not-found
// message when there are none.
func FormatComparison(product string, offers []*wishlist.Offer) string {
	if len(offers) == 0 {
		return fmt.Sprintf("❌ 找不到「%s」的相關商品", product)
	}

	lines := make([]string, 0, maxCompareResults)
	for i, o := range offers[:min(len(offers), maxCompareResults)] {
		lines = append(lines, fmt.Sprintf("%d. %s\n   💰 %s - %s\n   🔗 %s", i+1, o.Title, wishlist.FormatPrice(o.Price), o.Source, o.URL))
	}
	return fmt.Sprintf("🔍 「%s」比價結果\n\n%s", product, strings.Join(lines, "\n\n"))
}
