package gamenight

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-Gamenight-Signature"

// webhookSource identifies deliveries from the gamenight backend.
const webhookSource = "gamenight"

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookPayload is a push event delivered over HTTP by the backend.
type WebhookPayload struct {
	Source    string          `json:"source"`
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PushEvent converts the delivery into the event published locally.
func (p *WebhookPayload) PushEvent() PushEvent {
	return PushEvent{Topic: p.Topic, Name: p.Event, Payload: p.Payload}
}

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies an HMAC-SHA256 signature, with or without
// the "sha256=" prefix, in constant time.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	expected := SignWebhookBody(body, secret)[len("sha256="):]
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhookPayload parses and validates a raw webhook body.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != webhookSource {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if !strings.HasPrefix(payload.Topic, "user-") || len(payload.Topic) == len("user-") {
		return nil, fmt.Errorf("invalid topic in webhook payload: %q", payload.Topic)
	}
	return &payload, nil
}

// ============================================================================
// PushWebhook
// ============================================================================

// PushWebhook receives signed push deliveries over HTTP and republishes them
// on a local Publisher, usually a Broker that Subscribers listen on.
type PushWebhook struct {
	secret    string
	publisher Publisher
	logger    *slog.Logger
}

// NewPushWebhook creates a webhook receiver.
func NewPushWebhook(secret string, publisher Publisher, logger *slog.Logger) (*PushWebhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushWebhook{secret: secret, publisher: publisher, logger: logger}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (w *PushWebhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Handle verifies, parses and publishes a delivery. It returns the status
// code and response body for the caller to write.
func (w *PushWebhook) Handle(ctx context.Context, body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := ParseWebhookPayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if err := w.publisher.Publish(ctx, payload.PushEvent()); err != nil {
		w.logger.Warn("webhook publish failed", "topic", payload.Topic, "event", payload.Event, "error", err)
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	broker := gamenight.NewBroker(nil)
//	wh, _ := gamenight.NewPushWebhook("secret", broker, nil)
//	http.Handle("/push", wh.HTTPHandler())
func (w *PushWebhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(r.Context(), string(bodyBytes), r.Header.Get(SignatureHeader))
		writeJSON(rw, statusCode, data)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
