package handler

import (
	"context"
	"net/http"
	"testing"

	"wabot-gateway/config"
	"wabot-gateway/internal/model"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	sessions map[string]model.SessionView
	running  map[string]bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{sessions: map[string]model.SessionView{}, running: map[string]bool{}}
}

func (m *fakeManager) Sessions(context.Context) ([]model.SessionView, error) {
	var out []model.SessionView
	for _, v := range m.sessions {
		out = append(out, v)
	}
	return out, nil
}

func (m *fakeManager) Session(_ context.Context, id string) (model.SessionView, error) {
	v, ok := m.sessions[id]
	if !ok {
		return model.SessionView{}, model.ErrSessionNotFound
	}
	return v, nil
}

func (m *fakeManager) Create(_ context.Context, sc config.SessionConfig) (model.SessionView, error) {
	if _, ok := m.sessions[sc.ID]; ok {
		return model.SessionView{}, model.ErrSessionExists
	}
	v := model.SessionView{SessionID: sc.ID, Name: sc.Name, Port: sc.Port, WebhookURL: sc.WebhookURL, Status: model.StatusStopped}
	m.sessions[sc.ID] = v
	return v, nil
}

func (m *fakeManager) StartSession(_ context.Context, id string) (model.SessionView, error) {
	v, ok := m.sessions[id]
	if !ok {
		return model.SessionView{}, model.ErrSessionNotFound
	}
	m.running[id] = true
	v.Running = true
	v.Status = model.StatusDisconnected
	m.sessions[id] = v
	return v, nil
}

func (m *fakeManager) StopSession(_ context.Context, id string) error {
	if !m.running[id] {
		return model.ErrSessionNotRunning
	}
	delete(m.running, id)
	return nil
}

func (m *fakeManager) Delete(_ context.Context, id string) error {
	if m.running[id] {
		return model.ErrSessionRunning
	}
	if _, ok := m.sessions[id]; !ok {
		return model.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func newAdminEcho(m SessionManager) *echo.Echo {
	h := NewAdminHandler(m)
	e := echo.New()
	api := e.Group("/api/sessions")
	api.GET("", h.ListSessions)
	api.POST("", h.CreateSession)
	api.GET("/:id", h.GetSession)
	api.POST("/:id/start", h.StartSession)
	api.POST("/:id/stop", h.StopSession)
	api.DELETE("/:id", h.DeleteSession)
	return e
}

func TestAdminSessionLifecycle(t *testing.T) {
	m := newFakeManager()
	e := newAdminEcho(m)

	code, body := doJSON(t, e, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["sessions"])

	code, body = doJSON(t, e, http.MethodPost, "/api/sessions", `{"sessionId":"1","name":"Sales","webhookUrl":"http://localhost:5000/hook"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "1", body["session"].(map[string]any)["sessionId"])

	code, body = doJSON(t, e, http.MethodPost, "/api/sessions", `{"sessionId":"1"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_EXISTS", body["code"])

	code, body = doJSON(t, e, http.MethodPost, "/api/sessions/1/start", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["session"].(map[string]any)["running"])

	code, body = doJSON(t, e, http.MethodDelete, "/api/sessions/1", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_RUNNING", body["code"])

	code, _ = doJSON(t, e, http.MethodPost, "/api/sessions/1/stop", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = doJSON(t, e, http.MethodDelete, "/api/sessions/1", "")
	assert.Equal(t, http.StatusOK, code)

	code, body = doJSON(t, e, http.MethodGet, "/api/sessions/1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
}

func TestAdminCreateGeneratesID(t *testing.T) {
	m := newFakeManager()
	e := newAdminEcho(m)

	code, body := doJSON(t, e, http.MethodPost, "/api/sessions", `{"name":"anon"}`)
	require.Equal(t, http.StatusCreated, code)
	id := body["session"].(map[string]any)["sessionId"].(string)
	assert.Len(t, id, 36)
}

func TestAdminCreateValidation(t *testing.T) {
	e := newAdminEcho(newFakeManager())

	code, body := doJSON(t, e, http.MethodPost, "/api/sessions", `{"sessionId":"../x","port":70000,"webhookUrl":"ftp://x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Len(t, body["errors"], 3)
}
