package middleware

import (
	"net/http"

	"wabot-gateway/internal/service"

	"github.com/labstack/echo/v4"
)

// RequireSessionAccess guards a session's own control server: admins pass, operators
// must have the session listed in their token.
func RequireSessionAccess(issuer *service.TokenIssuer, sessionID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !issuer.Enabled() {
				return next(c)
			}
			claims := ClaimsFrom(c)
			if claims == nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"ok":      false,
					"message": "Authentication required",
				})
			}
			if !claims.CanAccess(sessionID) {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"ok":      false,
					"message": "You do not have access to this session",
					"code":    "FORBIDDEN",
				})
			}
			return next(c)
		}
	}
}
