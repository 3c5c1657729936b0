package ws

import (
	"time"

	"wabot-gateway/internal/model"
)

type EventType string

const (
	EventStatus        EventType = "status"
	EventQR            EventType = "qr"
	EventReady         EventType = "ready"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailure   EventType = "auth_failure"
	EventDisconnected  EventType = "disconnected"
	EventMessage       EventType = "message"
)

// WsEvent is the envelope pushed to realtime subscribers.
type WsEvent struct {
	Event     EventType `json:"event"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type StatusData struct {
	SessionID string       `json:"sessionId"`
	Status    model.Status `json:"status"`
	IsReady   bool         `json:"isReady"`
	Message   string       `json:"message,omitempty"`
}

type QRData struct {
	SessionID  string `json:"sessionId"`
	QRArtifact string `json:"qrArtifact"`
}

// LifecycleData carries ready/authenticated/auth_failure/disconnected details.
type LifecycleData struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
}

type Direction string

const (
	DirectionInbound Direction = "inbound"
)

// MessageData is a normalized chat message.
type MessageData struct {
	Direction   Direction `json:"direction"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Body        string    `json:"body"`
	Timestamp   string    `json:"timestamp"`
	IsGroup     bool      `json:"isGroup"`
	MessageType string    `json:"messageType"`
}

// RealtimePublisher is what the controller holds instead of the Hub itself.
type RealtimePublisher interface {
	Publish(event WsEvent)
}
