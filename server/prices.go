package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"wishlist-notifier/poll"
)

func (s *Server) handleCheckPrices(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.authorized(r) {
		s.logger.Warn("Unauthorized price check trigger", "ip", ip)
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
		return
	}

	s.logger.Info("Price check triggered via HTTP", "ip", ip)

	task, err := s.runner.Trigger(r.Context(), poll.TriggerManual)
	switch {
	case errors.Is(err, poll.ErrSweepInProgress):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "in_progress",
			"task_id": task.ID,
		})
	case err != nil:
		s.logger.Error("Failed to start price check", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Price check unavailable"})
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"status":    "started",
			"task_id":   task.ID,
			"timestamp": task.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	task, ok := s.runner.Task(chi.URLParam(r, "id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Task not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// authorized reports whether the request carries the cron secret, if one is
// configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Cron-Token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}
