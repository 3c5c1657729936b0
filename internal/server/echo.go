package server

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"wabot-gateway/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Security is the HTTP policy shared by the session servers and the admin server.
type Security struct {
	Issuer             *service.TokenIssuer
	CORSAllowOrigins   []string
	RateLimitPerSecond int
	RateLimitBurst     int
	RateLimitWindow    time.Duration
}

func newEcho(sec Security, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				evt = log.Warn().Err(v.Error)
			}
			evt.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	allowOrigins := sec.CORSAllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
		},
	}))

	if sec.RateLimitPerSecond > 0 {
		window := sec.RateLimitWindow
		if window <= 0 {
			window = 3 * time.Minute
		}
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			// the realtime channel is one long-lived request, never throttle it
			Skipper: func(c echo.Context) bool { return c.Path() == "/ws" },
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(sec.RateLimitPerSecond),
					Burst:     sec.RateLimitBurst,
					ExpiresIn: window,
				},
			),
		}))
	}

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := "Internal Server Error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"ok":      false,
			"message": message,
		}
		switch code {
		case http.StatusUnauthorized:
			response["message"] = "Authentication required"
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		case http.StatusTooManyRequests:
			response["message"] = "Too many requests"
		}
		if err := c.JSON(code, response); err != nil {
			log.Debug().Err(err).Msg("failed to write error response")
		}
	}
	return e
}

// listenAndServe binds addr synchronously, so a taken port fails the caller,
// then serves in the background.
func listenAndServe(e *echo.Echo, addr string, log zerolog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	e.Listener = ln
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()
	return ln, nil
}
