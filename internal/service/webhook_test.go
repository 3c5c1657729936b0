package service

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	header http.Header
	body   []byte
}

func TestWebhookRelayDeliversSignedPayload(t *testing.T) {
	got := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- capturedRequest{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	relay := NewWebhookRelay(srv.URL, "topsecret", time.Second, zerolog.Nop())
	relay.Deliver(MessageReceivedPayload{
		Type:        RelayMessageReceived,
		SessionID:   "bot-1",
		From:        "5511988887777@s.whatsapp.net",
		To:          "5511977776666@s.whatsapp.net",
		Body:        "hello",
		Timestamp:   "2024-05-01T12:00:00Z",
		MessageType: "text",
	})
	relay.Close()

	var req capturedRequest
	select {
	case req = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}

	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, RelayMessageReceived, req.header.Get(EventHeader))
	assert.NotEmpty(t, req.header.Get(DeliveryHeader))
	assert.Equal(t, SignPayload("topsecret", req.body), req.header.Get(SignatureHeader))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(req.body, &payload))
	assert.Equal(t, "message_received", payload["type"])
	assert.Equal(t, "bot-1", payload["sessionId"])
	assert.Equal(t, "hello", payload["body"])
	assert.Equal(t, false, payload["isGroup"])
	assert.Equal(t, "text", payload["messageType"])
}

func TestWebhookRelayWithoutSecretIsUnsigned(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer srv.Close()

	relay := NewWebhookRelay(srv.URL, "", 0, zerolog.Nop())
	relay.Deliver(MessageSentPayload{Type: RelayMessageSent, SessionID: "bot-1", To: "5511999999999", Message: "hi"})
	relay.Close()

	header := <-got
	assert.Empty(t, header.Get(SignatureHeader))
	assert.Equal(t, RelayMessageSent, header.Get(EventHeader))
}

func TestWebhookRelayNoURLIsNoop(t *testing.T) {
	relay := NewWebhookRelay("", "secret", time.Second, zerolog.Nop())
	assert.False(t, relay.Enabled())
	relay.Deliver(MessageSentPayload{Type: RelayMessageSent})
	relay.Close()

	var nilRelay *WebhookRelay
	assert.False(t, nilRelay.Enabled())
	nilRelay.Deliver(MessageSentPayload{Type: RelayMessageSent})
	nilRelay.Close()
}

func TestWebhookRelayDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	relay := NewWebhookRelay(srv.URL, "", 5*time.Second, zerolog.Nop())
	start := time.Now()
	relay.Deliver(MessageSentPayload{Type: RelayMessageSent})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWebhookRelayTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	relay := NewWebhookRelay(srv.URL, "", 100*time.Millisecond, zerolog.Nop())
	relay.Deliver(MessageSentPayload{Type: RelayMessageSent})

	done := make(chan struct{})
	go func() {
		relay.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not bounded by the timeout")
	}
}

func TestWebhookRelayDropsPayloadsAfterClose(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	relay := NewWebhookRelay(srv.URL, "", time.Second, zerolog.Nop())
	relay.Deliver(MessageSentPayload{Type: RelayMessageSent})
	relay.Close()
	assert.EqualValues(t, 1, calls.Load())

	relay.Deliver(MessageSentPayload{Type: RelayMessageSent})
	relay.Close()
	assert.EqualValues(t, 1, calls.Load(), "a closed relay sends nothing")
}

func TestWebhookRelayDeliverRacingClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	relay := NewWebhookRelay(srv.URL, "", time.Second, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Deliver(MessageSentPayload{Type: RelayMessageSent})
		}()
	}
	relay.Close()
	wg.Wait()
	relay.Close()
}
