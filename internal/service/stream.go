package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"wabot-gateway/internal/ws"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const streamQueueSize = 512

type streamItem struct {
	sessionID string
	event     string
	payload   any
}

// StreamRelay mirrors session events into Redis Streams, one stream per session.
// It is both a RealtimePublisher and an EventRelay.
type StreamRelay struct {
	prefix    string
	publisher message.Publisher
	client    *redis.Client
	log       zerolog.Logger

	queue     chan streamItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamRelay connects to Redis and starts the publishing worker.
func NewStreamRelay(ctx context.Context, addr, prefix string, log zerolog.Logger) (*StreamRelay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(log))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	return newStreamRelay(pub, prefix, log, client), nil
}

func newStreamRelay(pub message.Publisher, prefix string, log zerolog.Logger, client *redis.Client) *StreamRelay {
	if prefix == "" {
		prefix = "wabot"
	}
	s := &StreamRelay{
		prefix:    prefix,
		publisher: pub,
		client:    client,
		log:       log.With().Str("component", "stream").Logger(),
		queue:     make(chan streamItem, streamQueueSize),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Topic is the Redis stream a session's events go to.
func (s *StreamRelay) Topic(sessionID string) string {
	return s.prefix + "." + sessionID
}

// Publish implements ws.RealtimePublisher.
func (s *StreamRelay) Publish(event ws.WsEvent) {
	s.enqueue(streamItem{sessionID: event.SessionID, event: string(event.Event), payload: event})
}

// ForSession binds the relay to one session so it can serve as that session's EventRelay.
func (s *StreamRelay) ForSession(sessionID string) EventRelay {
	return sessionStream{relay: s, sessionID: sessionID}
}

type sessionStream struct {
	relay     *StreamRelay
	sessionID string
}

func (b sessionStream) Deliver(payload RelayPayload) {
	b.relay.enqueue(streamItem{sessionID: b.sessionID, event: payload.RelayType(), payload: payload})
}

func (s *StreamRelay) enqueue(item streamItem) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- item:
	default:
		s.log.Warn().Str("session_id", item.sessionID).Str("event", item.event).Msg("stream queue full, event dropped")
	}
}

func (s *StreamRelay) run() {
	for {
		select {
		case item := <-s.queue:
			s.publish(item)
		case <-s.done:
			return
		}
	}
}

func (s *StreamRelay) publish(item streamItem) {
	body, err := json.Marshal(item.payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", item.event).Msg("stream: marshal error")
		return
	}
	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set("session_id", item.sessionID)
	msg.Metadata.Set("event", item.event)

	if err := s.publisher.Publish(s.Topic(item.sessionID), msg); err != nil {
		s.log.Warn().Err(err).Str("session_id", item.sessionID).Str("event", item.event).Msg("stream: publish failed")
	}
}

// Close stops the worker and releases the Redis connection. Queued events are discarded.
func (s *StreamRelay) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.publisher.Close()
		if s.client != nil {
			if cerr := s.client.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter.
type watermillLogger struct {
	log zerolog.Logger
}

func NewWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return watermillLogger{log: log.With().Str("component", "watermill").Logger()}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{log: l.log.With().Fields(map[string]any(fields)).Logger()}
}
