// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wishlist-notifier/poll"
)

// Runner starts and tracks background price-check sweeps.
type Runner interface {
	Trigger(ctx context.Context, trigger string) (poll.Task, error)
	Task(id string) (poll.Task, bool)
}

// ChatHandler executes one chat message.
type ChatHandler interface {
	Handle(ctx context.Context, userID, replyToken, text string) error
}

// Server handles HTTP requests.
type Server struct {
	runner        Runner
	chat          ChatHandler
	logger        *slog.Logger
	limiter       *rateLimiter
	now           func() time.Time
	cronSecret    string
	channelSecret string
	chatTimeout   time.Duration
	events        sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Runner Runner
	// Chat handles LINE messages. The webhook is not mounted without it.
	Chat   ChatHandler
	Logger *slog.Logger
	// CronSecret, when set, must accompany every trigger request.
	CronSecret    string
	ChannelSecret string
	// TriggerLimit is the number of trigger requests allowed per client IP
	// per hour. Default: 10.
	TriggerLimit int
	// ChatTimeout bounds the handling of one chat message. Default: 2m.
	ChatTimeout time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.TriggerLimit
	if limit <= 0 {
		limit = 10
	}
	chatTimeout := cfg.ChatTimeout
	if chatTimeout <= 0 {
		chatTimeout = 2 * time.Minute
	}
	return &Server{
		runner:        cfg.Runner,
		chat:          cfg.Chat,
		logger:        logger,
		limiter:       newRateLimiter(limit, time.Hour),
		now:           time.Now,
		cronSecret:    cfg.CronSecret,
		channelSecret: cfg.ChannelSecret,
		chatTimeout:   chatTimeout,
	}
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api/check-prices", func(r chi.Router) {
		r.Get("/", s.handleCheckPrices)
		r.Post("/", s.handleCheckPrices)
		r.Get("/{id}", s.handleTaskStatus)
	})

	if s.chat != nil {
		r.Post("/line/webhook", s.handleWebhook)
	}
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully and waits for in-flight chat messages.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until every accepted chat message has been handled.
func (s *Server) Wait() {
	s.events.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    "願望清單比價機器人",
		"service": "wishlist-notifier",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", clientIP(r),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
