package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wishlist-notifier/poll"
)

type fakeRunner struct {
	tasks   map[string]poll.Task
	active  *poll.Task
	trigger []string
	mu      sync.Mutex
}

func (f *fakeRunner) Trigger(_ context.Context, trigger string) (poll.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trigger = append(f.trigger, trigger)
	if f.active != nil {
		return *f.active, poll.ErrSweepInProgress
	}
	t := poll.Task{ID: "task-1", Trigger: trigger, Status: poll.StatusPending, CreatedAt: time.Now()}
	f.active = &t
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeRunner) Task(id string) (poll.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

type chatCall struct {
	userID, replyToken, text string
}

type fakeChat struct {
	calls []chatCall
	mu    sync.Mutex
}

func (f *fakeChat) Handle(_ context.Context, userID, replyToken, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{userID, replyToken, text})
	return nil
}

func newTestServer(cfg Config) (*Server, *fakeRunner) {
	runner := &fakeRunner{tasks: make(map[string]poll.Task)}
	cfg.Runner = runner
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&cfg), runner
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(Config{})
	s.now = func() time.Time { return time.Date(2026, 10, 18, 1, 2, 3, 0, time.UTC) }

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["timestamp"] != "2026-10-18T01:02:03Z" {
		t.Errorf("body = %v", body)
	}
}

func TestRoot(t *testing.T) {
	s, _ := newTestServer(Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ok" {
		t.Errorf("GET / = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCheckPricesAuth(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		target string
		header string
		want   int
	}{
		{"no secret configured", "", "/api/check-prices", "", http.StatusAccepted},
		{"query token", "s3cret", "/api/check-prices?token=s3cret", "", http.StatusAccepted},
		{"header token", "s3cret", "/api/check-prices", "s3cret", http.StatusAccepted},
		{"wrong token", "s3cret", "/api/check-prices?token=nope", "", http.StatusUnauthorized},
		{"missing token", "s3cret", "/api/check-prices", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, runner := newTestServer(Config{CronSecret: tt.secret})
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Cron-Token", tt.header)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if triggered := len(runner.trigger) > 0; triggered != (tt.want == http.StatusAccepted) {
				t.Errorf("triggered = %v", triggered)
			}
		})
	}
}

func TestCheckPricesRejectsOverlap(t *testing.T) {
	s, _ := newTestServer(Config{})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/check-prices", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger status = %d", rec.Code)
	}
	first := decodeBody(t, rec)
	if first["status"] != "started" || first["task_id"] != "task-1" {
		t.Errorf("first body = %v", first)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/check-prices", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second trigger status = %d, want 409", rec.Code)
	}
	if body := decodeBody(t, rec); body["task_id"] != "task-1" {
		t.Errorf("conflict body = %v, want active task id", body)
	}
}

func TestCheckPricesRateLimit(t *testing.T) {
	s, runner := newTestServer(Config{TriggerLimit: 2})
	runner.active = &poll.Task{ID: "busy"}
	h := s.Handler()

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/check-prices", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusConflict || codes[1] != http.StatusConflict || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [409 409 429]", codes)
	}

	// Other clients are unaffected.
	req := httptest.NewRequest(http.MethodGet, "/api/check-prices", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Error("rate limit should be per client IP")
	}
}

func TestTaskStatus(t *testing.T) {
	s, runner := newTestServer(Config{})
	runner.tasks["abc"] = poll.Task{ID: "abc", Status: poll.StatusDone, Summary: &poll.Summary{Total: 2, Checked: 2}}
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/check-prices/abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var task poll.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatal(err)
	}
	if task.Status != poll.StatusDone || task.Summary == nil || task.Summary.Checked != 2 {
		t.Errorf("task = %+v", task)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/check-prices/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", rec.Code)
	}
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const webhookBody = `{"destination":"Ubot","events":[
	{"type":"message","replyToken":"r1","source":{"type":"user","userId":"U1"},"message":{"type":"text","id":"1","text":"清單"}},
	{"type":"message","replyToken":"r2","source":{"type":"user","userId":"U2"},"message":{"type":"sticker","id":"2"}},
	{"type":"follow","replyToken":"r3","source":{"type":"user","userId":"U3"}}
]}`

func TestWebhook(t *testing.T) {
	chat := &fakeChat{}
	s, _ := newTestServer(Config{Chat: chat, ChannelSecret: "channel-secret"})
	h := s.Handler()

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"missing signature", "", http.StatusUnauthorized},
		{"bad signature", sign("other-secret", webhookBody), http.StatusUnauthorized},
		{"not base64", "%%%", http.StatusUnauthorized},
		{"valid signature", sign("channel-secret", webhookBody), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/line/webhook", strings.NewReader(webhookBody))
			if tt.signature != "" {
				req.Header.Set("X-Line-Signature", tt.signature)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	s.Wait()
	if len(chat.calls) != 1 {
		t.Fatalf("chat calls = %+v, want only the text message", chat.calls)
	}
	if got := chat.calls[0]; got != (chatCall{"U1", "r1", "清單"}) {
		t.Errorf("chat call = %+v", got)
	}
}

func TestWebhookNotMountedWithoutChat(t *testing.T) {
	s, _ := newTestServer(Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/line/webhook", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", rec.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Hour)
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.allow("a") {
		t.Error("third request within the window should be rejected")
	}
	now = now.Add(time.Hour + time.Second)
	if !rl.allow("a") {
		t.Error("request after the window should be allowed")
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	rl := newRateLimiter(2, time.Hour)
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	rl.allow("b")
	now = now.Add(30 * time.Minute)
	rl.allow("b")
	now = now.Add(31 * time.Minute)
	rl.allow("c")

	if _, ok := rl.clients["a"]; ok {
		t.Error("client idle for longer than the window should be forgotten")
	}
	if len(rl.clients["b"]) != 2 {
		t.Errorf("client b has %d stamps, want 2", len(rl.clients["b"]))
	}
	if len(rl.clients) != 2 {
		t.Errorf("tracked clients = %d, want 2", len(rl.clients))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"forwarded", "203.0.113.7, 10.0.0.1", "10.0.0.2:1234", "203.0.113.7"},
		{"remote addr", "", "192.0.2.1:5678", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
