package server

import (
	"context"
	"fmt"

	"wabot-gateway/internal/handler"
	customMiddleware "wabot-gateway/internal/middleware"
	"wabot-gateway/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SessionServer is the control API of one session, on its own port.
type SessionServer struct {
	port int
	echo *echo.Echo
	addr string
	log  zerolog.Logger
}

func NewSessionServer(port int, ctrl handler.SessionController, hub *ws.Hub, sec Security, log zerolog.Logger) *SessionServer {
	log = log.With().Str("component", "session_server").Int("port", port).Logger()
	e := newEcho(sec, log)
	h := handler.NewSessionHandler(ctrl, hub, sec.CORSAllowOrigins, log)

	e.GET("/", h.Health)

	api := e.Group("",
		customMiddleware.JWTAuthMiddleware(sec.Issuer),
		customMiddleware.RequireSessionAccess(sec.Issuer, ctrl.SessionID()),
	)
	api.GET("/status", h.GetStatus)
	api.GET("/qr", h.GetQR)
	api.POST("/send-message", h.SendMessage)
	api.POST("/send-media", h.SendMedia)
	api.GET("/ws", h.Listen)

	return &SessionServer{port: port, echo: e, log: log}
}

// Start binds the port and serves in the background.
func (s *SessionServer) Start() error {
	ln, err := listenAndServe(s.echo, fmt.Sprintf(":%d", s.port), s.log)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.log.Info().Str("addr", s.addr).Msg("session server listening")
	return nil
}

// Addr is the bound address, useful when the port was 0.
func (s *SessionServer) Addr() string {
	return s.addr
}

func (s *SessionServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
