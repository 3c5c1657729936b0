package handler

import (
	"context"
	"net/http"

	"wabot-gateway/internal/model"
	"wabot-gateway/internal/service"
	"wabot-gateway/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SessionController is the part of service.Controller the control API drives.
type SessionController interface {
	SessionID() string
	Status() model.Snapshot
	SnapshotEvents() []ws.WsEvent
	SendMessage(ctx context.Context, address, body string) (service.Receipt, error)
	SendMedia(ctx context.Context, address, mediaURL, caption string) (service.Receipt, error)
}

// SessionHandler serves the control API of one session.
type SessionHandler struct {
	ctrl     SessionController
	hub      *ws.Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewSessionHandler(ctrl SessionController, hub *ws.Hub, allowedOrigins []string, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		ctrl: ctrl,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.With().Str("component", "http").Logger(),
	}
}

// GetStatus returns {sessionId, status, isReady, qrArtifact}.
func (h *SessionHandler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.ctrl.Status().Response())
}

// GetQR returns the pending pairing code without waiting for one.
func (h *SessionHandler) GetQR(c echo.Context) error {
	snap := h.ctrl.Status()
	if snap.QRArtifact == "" {
		return c.JSON(http.StatusOK, echo.Map{
			"ok":      false,
			"status":  snap.Status,
			"message": "QR code not available",
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":         true,
		"qrArtifact": snap.QRArtifact,
	})
}

func (h *SessionHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"ok":        true,
		"message":   "WhatsApp bot is running",
		"sessionId": h.ctrl.SessionID(),
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
