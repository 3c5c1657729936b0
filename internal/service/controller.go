package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"wabot-gateway/config"
	"wabot-gateway/database"
	"wabot-gateway/internal/helper"
	"wabot-gateway/internal/model"
	"wabot-gateway/internal/ws"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	eventQueueSize      = 1024
	statusPersistWindow = 5 * time.Second
)

// StatusStore records the last status each session reached.
type StatusStore interface {
	UpdateStatus(ctx context.Context, sessionID string, status model.Status) error
}

type ControllerOptions struct {
	Session    config.SessionConfig
	NewClient  ClientFactory
	Publishers []ws.RealtimePublisher
	Relays     []EventRelay
	Media      *MediaFetcher
	Store      StatusStore
	Log        zerolog.Logger
}

// Controller owns the lifecycle state of one session and is the only caller of
// its protocol client.
type Controller struct {
	cfg        config.SessionConfig
	newClient  ClientFactory
	publishers []ws.RealtimePublisher
	relays     []EventRelay
	media      *MediaFetcher
	store      StatusStore
	log        zerolog.Logger

	mu     sync.RWMutex
	status model.Status
	qr     string
	client ProtocolClient

	events   chan ProtocolEvent
	quit     chan struct{}
	loopDone chan struct{}

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	stopHooks []func(context.Context) error
}

func NewController(opts ControllerOptions) *Controller {
	media := opts.Media
	if media == nil {
		media = NewMediaFetcher(0, 0)
	}
	return &Controller{
		cfg:        opts.Session,
		newClient:  opts.NewClient,
		publishers: opts.Publishers,
		relays:     opts.Relays,
		media:      media,
		store:      opts.Store,
		log:        opts.Log.With().Str("session_id", opts.Session.ID).Logger(),
		status:     model.StatusDisconnected,
		events:     make(chan ProtocolEvent, eventQueueSize),
		quit:       make(chan struct{}),
	}
}

func (c *Controller) SessionID() string { return c.cfg.ID }

func (c *Controller) Config() config.SessionConfig { return c.cfg }

// Status is a consistent read of the session state. It never fails.
func (c *Controller) Status() model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.Snapshot {
	return model.Snapshot{SessionID: c.cfg.ID, Status: c.status, QRArtifact: c.qr}
}

// OnStop registers a hook run once by Stop after the session reached stopped.
func (c *Controller) OnStop(fn func(context.Context) error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopHooks = append(c.stopHooks, fn)
}

// Start prepares the storage directory, builds the protocol client and connects it.
// Any failure leaves the session in the terminal error state. A concurrent Stop
// cancels the context handed to the client and never waits for Start to finish.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.stopped {
		c.lifecycle.Unlock()
		return ErrStopped
	}
	if c.started {
		c.lifecycle.Unlock()
		return nil
	}
	c.started = true
	c.loopDone = make(chan struct{})
	go c.loop()
	c.lifecycle.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := database.EnsureSessionDir(c.cfg.StorageDir); err != nil {
		return c.fail(errors.Wrap(err, "prepare session storage"))
	}

	client, err := c.newClient(ctx, c.cfg.StorageDir, c.log)
	if err != nil {
		if c.isStopped() {
			return ErrStopped
		}
		return c.fail(errors.Wrap(err, "create protocol client"))
	}

	c.lifecycle.Lock()
	if c.stopped {
		c.lifecycle.Unlock()
		closeCtx, cancelClose := context.WithTimeout(context.Background(), statusPersistWindow)
		defer cancelClose()
		c.closeClient(closeCtx, client)
		return ErrStopped
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	c.lifecycle.Unlock()

	// Stop closes the client it finds in c.client, so a stopped session only needs to report it
	err = client.Start(ctx, c.enqueue)
	if c.isStopped() {
		return ErrStopped
	}
	if err != nil {
		return c.fail(errors.Wrap(err, "start protocol client"))
	}
	c.log.Info().Str("storage", c.cfg.StorageDir).Msg("session started")
	return nil
}

func (c *Controller) isStopped() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopped
}

func (c *Controller) fail(err error) error {
	c.log.Error().Err(err).Msg("session initialization failed")
	if snap, ok := c.transition(model.StatusError, ""); ok {
		c.publish(statusEvent(snap, err.Error()))
	}
	return err
}

// enqueue is the handler given to the protocol client. It only queues the event,
// so the client's own loop is never held up by broadcasting or relaying.
func (c *Controller) enqueue(evt ProtocolEvent) {
	select {
	case c.events <- evt:
	case <-c.quit:
	}
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case evt := <-c.events:
			c.safeApply(evt)
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) safeApply(evt ProtocolEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str("event", fmt.Sprintf("%T", evt)).
				Bytes("stack", debug.Stack()).
				Msg("panic while handling protocol event")
		}
	}()
	c.apply(evt)
}

func (c *Controller) apply(evt ProtocolEvent) {
	switch e := evt.(type) {
	case QRCodeIssued:
		artifact, err := helper.EncodeQRDataURL(e.Code)
		if err != nil {
			c.log.Error().Err(err).Msg("failed to encode pairing code")
			return
		}
		if snap, ok := c.transition(model.StatusQRReady, artifact); ok {
			c.log.Info().Msg("pairing code issued")
			c.publish(ws.WsEvent{Event: ws.EventQR, Data: ws.QRData{SessionID: c.cfg.ID, QRArtifact: artifact}})
			c.publish(statusEvent(snap, "QR code generated"))
		}

	case CredentialsAccepted:
		if snap, ok := c.transition(model.StatusAuthenticated, ""); ok {
			c.log.Info().Msg("authenticated")
			c.publish(c.lifecycleEvent(ws.EventAuthenticated, "Bot authenticated", ""))
			c.publish(statusEvent(snap, "Bot authenticated"))
		}

	case SessionUsable:
		if snap, ok := c.transition(model.StatusReady, ""); ok {
			c.log.Info().Msg("ready")
			c.publish(c.lifecycleEvent(ws.EventReady, "Bot connected and ready", ""))
			c.publish(statusEvent(snap, "Bot connected"))
		}

	case PairingRejected:
		if _, ok := c.transition(model.StatusAuthFailure, ""); ok {
			c.log.Warn().Str("reason", e.Reason).Msg("authentication failed")
			c.publish(c.lifecycleEvent(ws.EventAuthFailure, "Authentication failed", e.Reason))
		}

	case LinkDropped:
		if _, ok := c.transition(model.StatusDisconnected, ""); ok {
			c.log.Warn().Str("reason", e.Reason).Msg("disconnected")
			c.publish(c.lifecycleEvent(ws.EventDisconnected, "Bot disconnected", e.Reason))
		}

	case InboundMessage:
		c.handleInbound(e)

	default:
		c.log.Debug().Str("event", fmt.Sprintf("%T", evt)).Msg("ignoring unknown protocol event")
	}
}

// transition moves to status unless the session already reached a terminal
// state. qr is kept only for qr_ready.
func (c *Controller) transition(status model.Status, qr string) (model.Snapshot, bool) {
	c.mu.Lock()
	if c.status.Terminal() {
		c.mu.Unlock()
		return model.Snapshot{}, false
	}
	c.status = status
	if status == model.StatusQRReady {
		c.qr = qr
	} else {
		c.qr = ""
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(status)
	return snap, true
}

func (c *Controller) persist(status model.Status) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusPersistWindow)
	defer cancel()
	if err := c.store.UpdateStatus(ctx, c.cfg.ID, status); err != nil {
		c.log.Warn().Err(err).Str("status", status.String()).Msg("failed to persist status")
	}
}

func (c *Controller) publish(evt ws.WsEvent) {
	evt.SessionID = c.cfg.ID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for _, p := range c.publishers {
		p.Publish(evt)
	}
}

func (c *Controller) relay(payload RelayPayload) {
	for _, r := range c.relays {
		r.Deliver(payload)
	}
}

func (c *Controller) lifecycleEvent(event ws.EventType, message, reason string) ws.WsEvent {
	return ws.WsEvent{
		Event: event,
		Data:  ws.LifecycleData{SessionID: c.cfg.ID, Message: message, Reason: reason},
	}
}

func statusEvent(snap model.Snapshot, message string) ws.WsEvent {
	return ws.WsEvent{
		Event: ws.EventStatus,
		Data: ws.StatusData{
			SessionID: snap.SessionID,
			Status:    snap.Status,
			IsReady:   snap.IsReady(),
			Message:   message,
		},
	}
}

// SnapshotEvents is what a subscriber receives on connect: the status, then the
// QR artifact when one is pending.
func (c *Controller) SnapshotEvents() []ws.WsEvent {
	snap := c.Status()
	now := time.Now().UTC()

	events := []ws.WsEvent{statusEvent(snap, "")}
	if snap.QRArtifact != "" {
		events = append(events, ws.WsEvent{
			Event: ws.EventQR,
			Data:  ws.QRData{SessionID: snap.SessionID, QRArtifact: snap.QRArtifact},
		})
	}
	for i := range events {
		events[i].SessionID = c.cfg.ID
		events[i].Timestamp = now
	}
	return events
}

func (c *Controller) handleInbound(m InboundMessage) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := ts.UTC().Format(time.RFC3339)
	msgType := m.Type
	if msgType == "" {
		msgType = "text"
	}

	data := ws.MessageData{
		Direction:   ws.DirectionInbound,
		From:        m.From.String(),
		To:          m.To.String(),
		Body:        m.Body,
		Timestamp:   stamp,
		IsGroup:     helper.IsGroupJID(m.From),
		MessageType: msgType,
	}
	evt := c.log.Debug().Str("from", data.From).Str("type", msgType)
	if phone := helper.PhoneOf(m.From); phone != "" {
		evt = evt.Str("phone", phone)
	}
	evt.Msg("inbound message")

	c.publish(ws.WsEvent{Event: ws.EventMessage, Data: data})
	c.relay(MessageReceivedPayload{
		Type:        RelayMessageReceived,
		SessionID:   c.cfg.ID,
		From:        data.From,
		To:          data.To,
		Body:        data.Body,
		Timestamp:   stamp,
		IsGroup:     data.IsGroup,
		MessageType: msgType,
	})
}

func (c *Controller) readyClient() (ProtocolClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != model.StatusReady || c.client == nil {
		return nil, ErrNotReady
	}
	return c.client, nil
}

// SendMessage sends a text message. The relay notification after a successful
// send is fire-and-forget and never changes the result.
func (c *Controller) SendMessage(ctx context.Context, address, body string) (Receipt, error) {
	client, err := c.readyClient()
	if err != nil {
		return Receipt{}, err
	}
	if body == "" {
		return Receipt{}, ErrEmptyBody
	}
	to, err := helper.ParseAddress(address)
	if err != nil {
		return Receipt{}, &InvalidAddressError{Address: address, Err: err}
	}

	receipt, err := client.SendText(ctx, to, body)
	if err != nil {
		c.log.Warn().Err(err).Str("to", to.String()).Msg("send message failed")
		return Receipt{}, &SendFailedError{Err: err}
	}

	c.relay(MessageSentPayload{
		Type:      RelayMessageSent,
		SessionID: c.cfg.ID,
		To:        address,
		Message:   body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return receipt, nil
}

// SendMedia downloads mediaURL and sends it with an optional caption.
func (c *Controller) SendMedia(ctx context.Context, address, mediaURL, caption string) (Receipt, error) {
	client, err := c.readyClient()
	if err != nil {
		return Receipt{}, err
	}
	to, err := helper.ParseAddress(address)
	if err != nil {
		return Receipt{}, &InvalidAddressError{Address: address, Err: err}
	}

	media, err := c.media.Fetch(ctx, mediaURL)
	if err != nil {
		return Receipt{}, &MediaFetchError{URL: mediaURL, Err: err}
	}

	receipt, err := client.SendMedia(ctx, to, OutgoingMedia{
		Data:     media.Data,
		Mimetype: media.Mimetype,
		FileName: media.FileName,
		Caption:  caption,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("to", to.String()).Msg("send media failed")
		return Receipt{}, &SendFailedError{Err: err}
	}
	return receipt, nil
}

// Stop closes the protocol client, moves to stopped, broadcasts the final status
// and runs the stop hooks. It is idempotent and bounded by ctx; problems are
// logged, never returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	if c.stopped {
		c.lifecycle.Unlock()
		return nil
	}
	c.stopped = true
	hooks := c.stopHooks
	loopDone := c.loopDone
	c.lifecycle.Unlock()

	close(c.quit)

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client != nil {
		c.closeClient(ctx, client)
	}

	if loopDone != nil {
		select {
		case <-loopDone:
		case <-ctx.Done():
			c.log.Warn().Msg("timed out waiting for event loop")
		}
	}

	c.mu.Lock()
	c.status = model.StatusStopped
	c.qr = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.persist(model.StatusStopped)
	c.publish(statusEvent(snap, "Bot stopped"))

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			c.log.Warn().Err(err).Msg("stop hook failed")
		}
	}
	c.log.Info().Msg("session stopped")
	return nil
}

// closeClient closes the protocol client, bounded by ctx. A panicking or
// failing Close is logged.
func (c *Controller) closeClient(ctx context.Context, client ProtocolClient) {
	closed := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				closed <- errors.Errorf("panic closing protocol client: %v", r)
			}
		}()
		closed <- client.Close()
	}()
	select {
	case err := <-closed:
		if err != nil {
			c.log.Warn().Err(err).Msg("error closing protocol client")
		}
	case <-ctx.Done():
		c.log.Warn().Msg("timed out closing protocol client")
	}
}
