package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
)

const maxWebhookBody = 1 << 20

type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("Failed to read webhook body", "error", err)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad request"})
		return
	}

	if !validSignature(s.channelSecret, body, r.Header.Get("X-Line-Signature")) {
		s.logger.Warn("Invalid webhook signature", "ip", clientIP(r))
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Warn("Failed to decode webhook payload", "error", err)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad request"})
		return
	}

	// The delivery is acknowledged right away; messages are handled in the
	// background.
	ctx := context.WithoutCancel(r.Context())
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Message.Type != "text" {
			continue
		}
		if ev.Source.UserID == "" {
			s.logger.Warn("Webhook event without user ID", "source_type", ev.Source.Type)
			continue
		}

		s.events.Add(1)
		go func(ev webhookEvent) {
			defer s.events.Done()
			ctx, cancel := context.WithTimeout(ctx, s.chatTimeout)
			defer cancel()
			if err := s.chat.Handle(ctx, ev.Source.UserID, ev.ReplyToken, ev.Message.Text); err != nil {
				s.logger.Error("Failed to handle chat message", "user", ev.Source.UserID, "error", err)
			}
		}(ev)
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// validSignature checks the base64 HMAC-SHA256 of body keyed by the channel
// secret.
func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
