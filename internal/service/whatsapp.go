package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wabot-gateway/database"
	"wabot-gateway/internal/helper"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

var setDeviceProps sync.Once

// NewWhatsmeowFactory returns a ClientFactory backed by whatsmeow, with the
// credentials of each session kept in its own storage directory.
func NewWhatsmeowFactory(osName string) ClientFactory {
	return func(ctx context.Context, storageDir string, log zerolog.Logger) (ProtocolClient, error) {
		// device name is a process-wide whatsmeow setting, applied before the first device is created
		setDeviceProps.Do(func() {
			if osName != "" {
				store.DeviceProps.Os = proto.String(osName)
			}
		})

		ds, err := database.OpenDeviceStore(ctx, storageDir, log)
		if err != nil {
			return nil, err
		}
		clientLog := waLog.Zerolog(log.With().Str("component", "whatsmeow").Logger())
		// pairing outlives the request that started the session
		runCtx, cancel := context.WithCancel(context.Background())
		return &WhatsmeowClient{
			client: whatsmeow.NewClient(ds.Device, clientLog),
			store:  ds,
			log:    log,
			ctx:    runCtx,
			cancel: cancel,
		}, nil
	}
}

// WhatsmeowClient adapts a whatsmeow client to ProtocolClient.
type WhatsmeowClient struct {
	client *whatsmeow.Client
	store  *database.DeviceStore
	log    zerolog.Logger

	handle func(ProtocolEvent)
	paired atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (w *WhatsmeowClient) Start(_ context.Context, handle func(ProtocolEvent)) error {
	w.handle = handle
	w.client.AddEventHandler(w.onEvent)

	ctx, cancel := w.ctx, w.cancel

	if w.client.Store.ID == nil {
		qrChan, err := w.client.GetQRChannel(ctx)
		if err != nil {
			cancel()
			return errors.Wrap(err, "get QR channel")
		}
		if err := w.client.Connect(); err != nil {
			cancel()
			return errors.Wrap(err, "connect")
		}
		go runPairing(ctx, qrChan, pairingSteps{
			open:    w.client.GetQRChannel,
			connect: w.client.Connect,
			paired:  func() bool { return w.client.Store.ID != nil },
			handle:  w.handle,
			log:     w.log,
		})
		return nil
	}

	w.log.Info().Str("jid", w.client.Store.ID.String()).Msg("restoring stored credentials")
	if err := w.client.Connect(); err != nil {
		cancel()
		return errors.Wrap(err, "connect")
	}
	return nil
}

const pairingRetryDelay = 2 * time.Second

// pairingSteps are the client operations the pairing loop drives.
type pairingSteps struct {
	open    func(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	connect func() error
	paired  func() bool
	handle  func(ProtocolEvent)
	log     zerolog.Logger
	delay   time.Duration
}

// runPairing forwards pairing codes until the device pairs, pairing fails or
// ctx ends. An expired code drops the link, so the loop reopens a QR channel
// and reconnects to get a fresh one.
func runPairing(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem, p pairingSteps) {
	delay := p.delay
	if delay <= 0 {
		delay = pairingRetryDelay
	}
	for {
		if !forwardQR(qrChan, p.handle) {
			return
		}
		if ctx.Err() != nil || p.paired() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		var err error
		qrChan, err = p.open(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("could not renew pairing code")
			p.handle(LinkDropped{Reason: "could not renew pairing code: " + err.Error()})
			return
		}
		if err := p.connect(); err != nil {
			p.log.Warn().Err(err).Msg("reconnect for pairing failed")
			p.handle(LinkDropped{Reason: "reconnect for pairing failed: " + err.Error()})
			return
		}
		p.log.Debug().Msg("requesting a fresh pairing code")
	}
}

// forwardQR relays one QR channel and reports whether it ended on a timeout.
func forwardQR(qrChan <-chan whatsmeow.QRChannelItem, handle func(ProtocolEvent)) bool {
	for item := range qrChan {
		switch {
		case item.Event == "code":
			handle(QRCodeIssued{Code: item.Code})
		case item.Event == "success":
			// PairSuccess is handled by onEvent
			return false
		case item.Event == "timeout":
			handle(LinkDropped{Reason: "pairing code expired"})
			return true
		case strings.HasPrefix(item.Event, "err"):
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			handle(PairingRejected{Reason: reason})
			return false
		}
	}
	return false
}

func (w *WhatsmeowClient) onEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		w.paired.Store(true)
		w.handle(CredentialsAccepted{})

	case *events.Connected:
		// a session restored from stored credentials never sees PairSuccess
		if w.paired.CompareAndSwap(false, true) {
			w.handle(CredentialsAccepted{})
		}
		w.handle(SessionUsable{})

	case *events.LoggedOut:
		w.paired.Store(false)
		w.handle(PairingRejected{Reason: "logged out: " + e.Reason.String()})

	case *events.PairError:
		reason := "pairing failed"
		if e.Error != nil {
			reason = e.Error.Error()
		}
		w.handle(PairingRejected{Reason: reason})

	case *events.TemporaryBan:
		w.handle(PairingRejected{Reason: e.String()})

	case *events.ConnectFailure:
		w.handle(LinkDropped{Reason: "connect failure: " + e.Reason.String()})

	case *events.StreamReplaced:
		w.handle(LinkDropped{Reason: "stream replaced by another connection"})

	case *events.Disconnected:
		w.handle(LinkDropped{Reason: "connection closed"})

	case *events.KeepAliveTimeout:
		w.log.Warn().Int("error_count", e.ErrorCount).Msg("keepalive timeout")

	case *events.Message:
		if e.Info.IsFromMe {
			return
		}
		w.handle(w.inbound(e))
	}
}

func (w *WhatsmeowClient) inbound(e *events.Message) InboundMessage {
	var own types.JID
	if w.client.Store.ID != nil {
		own = w.client.Store.ID.ToNonAD()
	}
	msgType := e.Info.MediaType
	if msgType == "" {
		msgType = e.Info.Type
	}
	return InboundMessage{
		ID:        e.Info.ID,
		From:      e.Info.Chat,
		To:        own,
		Body:      messageText(e.Message),
		Type:      msgType,
		Timestamp: e.Info.Timestamp,
	}
}

func messageText(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func (w *WhatsmeowClient) SendText(ctx context.Context, to types.JID, body string) (Receipt, error) {
	resp, err := w.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: resp.ID, To: to.String(), Timestamp: resp.Timestamp}, nil
}

func (w *WhatsmeowClient) SendMedia(ctx context.Context, to types.JID, media OutgoingMedia) (Receipt, error) {
	mediaType := mediaTypeFor(media.Mimetype)
	up, err := w.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return Receipt{}, errors.Wrap(err, "upload media")
	}

	msg := &waE2E.Message{}
	switch mediaType {
	case whatsmeow.MediaImage:
		img := &waE2E.ImageMessage{
			Caption:       optionalString(media.Caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
		if info, err := helper.DescribeImage(media.Data, media.Mimetype); err == nil {
			img.Width = proto.Uint32(info.Width)
			img.Height = proto.Uint32(info.Height)
			img.JPEGThumbnail = info.Thumbnail
		} else {
			w.log.Debug().Err(err).Msg("sending image without thumbnail")
		}
		msg.ImageMessage = img

	case whatsmeow.MediaVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			Caption:       optionalString(media.Caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}

	case whatsmeow.MediaAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}

	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       optionalString(media.Caption),
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	}

	resp, err := w.client.SendMessage(ctx, to, msg)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: resp.ID, To: to.String(), Timestamp: resp.Timestamp}, nil
}

// Close disconnects and closes the credential store. Pairing state stays on disk.
func (w *WhatsmeowClient) Close() error {
	w.closeOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.client.Disconnect()
		w.closeErr = w.store.Close()
	})
	return w.closeErr
}

func mediaTypeFor(mimetype string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimetype, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimetype, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return proto.String(v)
}
