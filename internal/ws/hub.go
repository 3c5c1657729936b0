package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	clientBuffer    = 64
	broadcastBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one realtime subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// events waiting to be written; closed by the hub when the client is dropped
	send chan WsEvent
}

type registration struct {
	client   *Client
	snapshot func() []WsEvent
}

// Hub fans events out to the realtime subscribers of one session.
type Hub struct {
	sessionID string
	log       zerolog.Logger

	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan registration
	unregister chan *Client
	broadcast  chan WsEvent

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(sessionID string, log zerolog.Logger) *Hub {
	return &Hub{
		sessionID:  sessionID,
		log:        log.With().Str("component", "hub").Logger(),
		clients:    make(map[*Client]bool),
		register:   make(chan registration),
		unregister: make(chan *Client),
		broadcast:  make(chan WsEvent, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run owns the subscriber set until Close is called. Start it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client] = true
			h.mu.Unlock()
			if reg.snapshot != nil {
				for _, evt := range reg.snapshot() {
					h.deliver(reg.client, evt)
				}
			}

		case client := <-h.unregister:
			h.drop(client)

		case evt := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()
			for _, client := range targets {
				h.deliver(client, evt)
			}

		case <-h.done:
			h.flush()
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// flush delivers what was published before Close, so the final status reaches subscribers.
func (h *Hub) flush() {
	for {
		select {
		case evt := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				targets = append(targets, client)
			}
			h.mu.RUnlock()
			for _, client := range targets {
				h.deliver(client, evt)
			}
		default:
			return
		}
	}
}

// deliver never waits on a subscriber: a full queue means the subscriber is too slow and is dropped.
func (h *Hub) deliver(client *Client, evt WsEvent) {
	select {
	case client.send <- evt:
	default:
		h.log.Warn().Str("event", string(evt.Event)).Msg("subscriber queue full, dropping subscriber")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Register adds a subscriber. snapshot runs inside the hub loop, so the events it
// returns reach the client before any broadcast published after registration.
func (h *Hub) Register(client *Client, snapshot func() []WsEvent) bool {
	select {
	case h.register <- registration{client: client, snapshot: snapshot}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish implements RealtimePublisher.
func (h *Hub) Publish(event WsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = h.sessionID
	}
	select {
	case h.broadcast <- event:
	case <-h.done:
	}
}

func (h *Hub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and stops the loop. Safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan WsEvent, clientBuffer),
	}
}

// WritePump writes queued events to the connection until the hub drops the client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(event)
			if err != nil {
				c.hub.log.Error().Err(err).Msg("failed to marshal event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.log.Debug().Err(err).Msg("failed to write event")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump discards client input and notices disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Msg("ws read error")
			}
			return
		}
	}
}
