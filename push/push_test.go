package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"wishlist-notifier/pkg/wishlist"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatPriceDrop(t *testing.T) {
	tests := []struct {
		name     string
		drop     wishlist.PriceDrop
		contains []string
		absent   []string
	}{
		{
			name: "with url",
			drop: wishlist.PriceDrop{Product: "AirPods Pro", OldPrice: 1000, NewPrice: 800, Source: "momo", URL: "https://example.com/p/1"},
			contains: []string{
				"商品：AirPods Pro",
				"原價：$1,000",
				"現價：$800",
				"降幅：$200 (-20.0%)",
				"來源：momo",
				"前往購買：https://example.com/p/1",
			},
		},
		{
			name:     "without url",
			drop:     wishlist.PriceDrop{Product: "Kindle", OldPrice: 3990, NewPrice: 3490.5, Source: "Shopee"},
			contains: []string{"原價：$3,990", "現價：$3,490.50", "降幅：$499.50 (-12.5%)", "來源：Shopee"},
			absent:   []string{"前往購買"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatPriceDrop(&tt.drop)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("message missing %q:\n%s", want, got)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(got, unwanted) {
					t.Errorf("message should not contain %q:\n%s", unwanted, got)
				}
			}
		})
	}
}

func TestSenderNotifyPriceDrop(t *testing.T) {
	mock := NewMockProvider(quietLogger())
	s := New(mock, quietLogger())

	drop := &wishlist.PriceDrop{Product: "AirPods Pro", OldPrice: 1000, NewPrice: 800, Source: "momo"}
	if err := s.NotifyPriceDrop(context.Background(), "U123", drop); err != nil {
		t.Fatalf("NotifyPriceDrop() error = %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].UserID != "U123" || sent[0].Text != FormatPriceDrop(drop) {
		t.Errorf("sent = %+v", sent[0])
	}
}

func TestLineProviderSend(t *testing.T) {
	var got linePushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret-token" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	l := NewLineProvider("secret-token", srv.URL, quietLogger())
	if err := l.Send(context.Background(), "U1", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.To != "U1" || len(got.Messages) != 1 || got.Messages[0].Type != "text" || got.Messages[0].Text != "hello" {
		t.Errorf("request = %+v", got)
	}
}

func TestLineProviderReply(t *testing.T) {
	var got lineReplyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/message/reply" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	l := NewLineProvider("tok", srv.URL, quietLogger())
	if err := l.Reply(context.Background(), "reply-1", "ok"); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got.ReplyToken != "reply-1" || got.Messages[0].Text != "ok" {
		t.Errorf("request = %+v", got)
	}
}

func TestLineProviderRetries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
	}{
		{"server error then success", []int{http.StatusBadGateway, http.StatusOK}, 2, false},
		{"rate limited then success", []int{http.StatusTooManyRequests, http.StatusOK}, 2, false},
		{"bad request is permanent", []int{http.StatusBadRequest}, 1, true},
		{"unauthorized is permanent", []int{http.StatusUnauthorized}, 1, true},
		{"persistent server error", []int{http.StatusInternalServerError}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				w.WriteHeader(status)
			}))
			defer srv.Close()

			l := NewLineProvider("tok", srv.URL, quietLogger())
			l.retryDelay = time.Millisecond

			err := l.Send(context.Background(), "U1", "hi")
			if (err != nil) != tt.wantErr {
				t.Errorf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	short := "比價結果"
	if got := truncate(short); got != short {
		t.Errorf("truncate(short) = %q", got)
	}

	long := strings.Repeat("價", maxTextRunes+10)
	got := truncate(long)
	if n := utf8.RuneCountInString(got); n != maxTextRunes {
		t.Errorf("truncated length = %d runes, want %d", n, maxTextRunes)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated text should end with an ellipsis")
	}
}
