package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types"
)

// ProtocolEvent is a notification from the protocol client. Each one is handled
// independently by the controller.
type ProtocolEvent interface {
	protocolEvent()
}

// QRCodeIssued carries a raw pairing payload.
type QRCodeIssued struct {
	Code string
}

// CredentialsAccepted means the pairing (or the stored credentials) were accepted.
type CredentialsAccepted struct{}

// SessionUsable means the connection is fully established and messages can be sent.
type SessionUsable struct{}

// PairingRejected means the credentials were refused or revoked.
type PairingRejected struct {
	Reason string
}

// LinkDropped means the connection was lost.
type LinkDropped struct {
	Reason string
}

type InboundMessage struct {
	ID        string
	From      types.JID
	To        types.JID
	Body      string
	Type      string
	Timestamp time.Time
}

func (QRCodeIssued) protocolEvent()        {}
func (CredentialsAccepted) protocolEvent() {}
func (SessionUsable) protocolEvent()       {}
func (PairingRejected) protocolEvent()     {}
func (LinkDropped) protocolEvent()         {}
func (InboundMessage) protocolEvent()      {}

// Receipt is what the protocol client returns for an accepted outgoing message.
type Receipt struct {
	MessageID string    `json:"messageId"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

type OutgoingMedia struct {
	Data     []byte
	Mimetype string
	FileName string
	Caption  string
}

// ProtocolClient is the chat-protocol capability one controller drives.
type ProtocolClient interface {
	// Start connects and begins delivering events to handle. It must not block
	// until pairing completes.
	Start(ctx context.Context, handle func(ProtocolEvent)) error
	SendText(ctx context.Context, to types.JID, body string) (Receipt, error)
	SendMedia(ctx context.Context, to types.JID, media OutgoingMedia) (Receipt, error)
	// Close disconnects and releases the credential store. Safe to call more than once.
	Close() error
}

// ClientFactory builds the protocol client of one session over its storage directory.
type ClientFactory func(ctx context.Context, storageDir string, log zerolog.Logger) (ProtocolClient, error)
