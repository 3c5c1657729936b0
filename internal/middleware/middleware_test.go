package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wabot-gateway/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtectedEcho(issuer *service.TokenIssuer) *echo.Echo {
	e := echo.New()
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/status", ok, JWTAuthMiddleware(issuer), RequireSessionAccess(issuer, "1"))
	e.GET("/admin", ok, JWTAuthMiddleware(issuer), RequireAdmin(issuer))
	return e
}

func do(e *echo.Echo, target, auth string) int {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthDisabledPassesEverything(t *testing.T) {
	e := newProtectedEcho(service.NewTokenIssuer(""))
	assert.Equal(t, http.StatusOK, do(e, "/status", ""))
	assert.Equal(t, http.StatusOK, do(e, "/admin", ""))
}

func TestJWTAuth(t *testing.T) {
	issuer := service.NewTokenIssuer("s3cret")
	e := newProtectedEcho(issuer)

	admin, err := issuer.Issue("root", service.RoleAdmin, nil, time.Hour)
	require.NoError(t, err)
	op1, err := issuer.Issue("ops", service.RoleOperator, []string{"1"}, time.Hour)
	require.NoError(t, err)
	op2, err := issuer.Issue("ops", service.RoleOperator, []string{"2"}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(e, "/status", ""))
	assert.Equal(t, http.StatusUnauthorized, do(e, "/status", "Token "+admin))
	assert.Equal(t, http.StatusUnauthorized, do(e, "/status", "Bearer garbage"))

	assert.Equal(t, http.StatusOK, do(e, "/status", "Bearer "+admin))
	assert.Equal(t, http.StatusOK, do(e, "/status", "Bearer "+op1))
	assert.Equal(t, http.StatusForbidden, do(e, "/status", "Bearer "+op2))
	assert.Equal(t, http.StatusOK, do(e, "/status?token="+op1, ""))

	assert.Equal(t, http.StatusOK, do(e, "/admin", "Bearer "+admin))
	assert.Equal(t, http.StatusForbidden, do(e, "/admin", "Bearer "+op1))
}
