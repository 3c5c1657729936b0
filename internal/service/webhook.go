package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RelayMessageSent     = "message_sent"
	RelayMessageReceived = "message_received"

	SignatureHeader = "X-Webhook-Signature"
	DeliveryHeader  = "X-Webhook-Delivery"
	EventHeader     = "X-Webhook-Event"

	defaultWebhookTimeout = 5 * time.Second
)

// RelayPayload is a structured event forwarded to external consumers.
type RelayPayload interface {
	RelayType() string
}

// EventRelay forwards payloads without ever blocking or failing the caller.
type EventRelay interface {
	Deliver(payload RelayPayload)
}

type MessageSentPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (p MessageSentPayload) RelayType() string { return p.Type }

type MessageReceivedPayload struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"body"`
	Timestamp   string `json:"timestamp"`
	IsGroup     bool   `json:"isGroup"`
	MessageType string `json:"messageType"`
}

func (p MessageReceivedPayload) RelayType() string { return p.Type }

// WebhookRelay posts payloads to one configured URL.
type WebhookRelay struct {
	url    string
	secret string
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewWebhookRelay(url, secret string, timeout time.Duration, log zerolog.Logger) *WebhookRelay {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookRelay{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Enabled reports whether deliveries leave the process at all.
func (w *WebhookRelay) Enabled() bool {
	return w != nil && w.url != ""
}

// Deliver sends the payload in a detached goroutine. Failures are logged and dropped.
func (w *WebhookRelay) Deliver(payload RelayPayload) {
	if !w.Enabled() {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Error().Err(err).Str("type", payload.RelayType()).Msg("webhook: marshal error")
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Debug().Str("type", payload.RelayType()).Msg("webhook: relay closed, payload dropped")
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.post(payload.RelayType(), body)
	}()
}

func (w *WebhookRelay) post(eventType string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Error().Err(err).Msg("webhook: new request error")
		return
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	req.Header.Set(DeliveryHeader, deliveryID)
	if w.secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn().Err(err).Str("type", eventType).Str("delivery", deliveryID).Msg("webhook: send error")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		w.log.Warn().Int("status", resp.StatusCode).Str("type", eventType).Str("delivery", deliveryID).Msg("webhook: endpoint rejected delivery")
		return
	}
	w.log.Debug().Str("type", eventType).Str("delivery", deliveryID).Msg("webhook delivered")
}

// Close stops accepting payloads and blocks until in-flight deliveries finish,
// each bounded by the relay timeout.
func (w *WebhookRelay) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

// SignPayload returns the hex HMAC-SHA256 of body, as sent in X-Webhook-Signature.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
