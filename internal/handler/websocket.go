package handler

import (
	"wabot-gateway/internal/ws"

	"github.com/labstack/echo/v4"
)

// Listen upgrades to the realtime channel. The subscriber gets the status snapshot
// (and the pending QR, if any) before any later broadcast.
func (h *SessionHandler) Listen(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws upgrade error")
		return nil
	}

	client := ws.NewClient(h.hub, conn)
	if !h.hub.Register(client, h.ctrl.SnapshotEvents) {
		_ = conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump()
	return nil
}
