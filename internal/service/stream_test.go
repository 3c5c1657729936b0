package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wabot-gateway/internal/ws"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveMessage(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message on stream")
	}
	return nil
}

func TestStreamRelayPublishesPerSessionTopic(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	relay := newStreamRelay(pubsub, "wabot", zerolog.Nop(), nil)
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, relay.Topic("bot-1"))
	require.NoError(t, err)

	relay.Publish(ws.WsEvent{Event: ws.EventReady, SessionID: "bot-1", Data: ws.LifecycleData{SessionID: "bot-1", Message: "ready"}})
	msg := receiveMessage(t, msgs)
	assert.Equal(t, "bot-1", msg.Metadata.Get("session_id"))
	assert.Equal(t, "ready", msg.Metadata.Get("event"))

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
	assert.Equal(t, "ready", envelope["event"])

	relay.ForSession("bot-1").Deliver(MessageSentPayload{Type: RelayMessageSent, SessionID: "bot-1", To: "55119", Message: "hi"})
	msg = receiveMessage(t, msgs)
	assert.Equal(t, RelayMessageSent, msg.Metadata.Get("event"))

	var sent MessageSentPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &sent))
	assert.Equal(t, "hi", sent.Message)
}

func TestStreamRelayCloseIsIdempotent(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	relay := newStreamRelay(pubsub, "", zerolog.Nop(), nil)
	assert.Equal(t, "wabot.x", relay.Topic("x"))

	require.NoError(t, relay.Close())
	require.NoError(t, relay.Close())
	relay.Publish(ws.WsEvent{Event: ws.EventStatus, SessionID: "x"}) // dropped, must not block
}
