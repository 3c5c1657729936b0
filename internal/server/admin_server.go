package server

import (
	"context"
	"fmt"
	"net/http"

	"wabot-gateway/internal/handler"
	customMiddleware "wabot-gateway/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AdminServer exposes the session registry.
type AdminServer struct {
	port int
	echo *echo.Echo
	addr string
	log  zerolog.Logger
}

func NewAdminServer(port int, manager handler.SessionManager, sec Security, log zerolog.Logger) *AdminServer {
	log = log.With().Str("component", "admin_server").Int("port", port).Logger()
	e := newEcho(sec, log)
	h := handler.NewAdminHandler(manager)

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"ok":      true,
			"message": "WaBot gateway is running",
		})
	})

	api := e.Group("/api/sessions",
		customMiddleware.JWTAuthMiddleware(sec.Issuer),
		customMiddleware.RequireAdmin(sec.Issuer),
	)
	api.GET("", h.ListSessions)
	api.POST("", h.CreateSession)
	api.GET("/:id", h.GetSession)
	api.DELETE("/:id", h.DeleteSession)
	api.POST("/:id/start", h.StartSession)
	api.POST("/:id/stop", h.StopSession)

	return &AdminServer{port: port, echo: e, log: log}
}

func (s *AdminServer) Start() error {
	ln, err := listenAndServe(s.echo, fmt.Sprintf(":%d", s.port), s.log)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.log.Info().Str("addr", s.addr).Msg("admin server listening")
	return nil
}

func (s *AdminServer) Addr() string {
	return s.addr
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
