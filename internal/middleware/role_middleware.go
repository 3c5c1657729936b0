package middleware

import (
	"net/http"

	"wabot-gateway/internal/service"

	"github.com/labstack/echo/v4"
)

// RequireAdmin ensures the token has the admin role. Open when auth is disabled.
func RequireAdmin(issuer *service.TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !issuer.Enabled() {
				return next(c)
			}
			claims := ClaimsFrom(c)
			if claims == nil || claims.Role != service.RoleAdmin {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"ok":      false,
					"message": "Access denied. Admin role required.",
					"code":    "FORBIDDEN",
				})
			}
			return next(c)
		}
	}
}
