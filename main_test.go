package main

import (
	"bytes"
	"strings"
	"testing"

	"wabot-gateway/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFromArgs(t *testing.T) {
	sc, err := sessionFromArgs([]string{"3"})
	require.NoError(t, err)
	assert.Equal(t, "3", sc.ID)
	assert.Zero(t, sc.Port)

	sc, err = sessionFromArgs([]string{"3", "9003", " http://hook/3 "})
	require.NoError(t, err)
	assert.Equal(t, 9003, sc.Port)
	assert.Equal(t, "http://hook/3", sc.WebhookURL)

	sc, err = sessionFromArgs([]string{"3", "-", "http://hook/3"})
	require.NoError(t, err)
	assert.Zero(t, sc.Port)

	_, err = sessionFromArgs([]string{"../etc"})
	assert.Error(t, err)
	_, err = sessionFromArgs([]string{"3", "http"})
	assert.Error(t, err)
	_, err = sessionFromArgs([]string{"3", "70000"})
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--role", "operator", "--session", "1", "--session", "2"})
	require.NoError(t, root.Execute())

	claims, err := service.NewTokenIssuer("s3cret").Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, service.RoleOperator, claims.Role)
	assert.Equal(t, []string{"1", "2"}, claims.Sessions)
	assert.True(t, claims.CanAccess("2"))
	assert.False(t, claims.CanAccess("3"))
}

func TestTokenCommandRejectsBadInput(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	for _, args := range [][]string{
		{"token", "--role", "operator"},
		{"token", "--role", "root"},
	} {
		root := newRootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetArgs(args)
		assert.Error(t, root.Execute(), args)
	}

	t.Setenv("JWT_SECRET", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	assert.ErrorIs(t, root.Execute(), service.ErrAuthDisabled)
}
