package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"wabot-gateway/config"
	"wabot-gateway/internal/model"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SessionManager is the supervisor as seen by the admin API.
type SessionManager interface {
	Sessions(ctx context.Context) ([]model.SessionView, error)
	Session(ctx context.Context, id string) (model.SessionView, error)
	Create(ctx context.Context, sc config.SessionConfig) (model.SessionView, error)
	StartSession(ctx context.Context, id string) (model.SessionView, error)
	StopSession(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type AdminHandler struct {
	manager SessionManager
}

func NewAdminHandler(manager SessionManager) *AdminHandler {
	return &AdminHandler{manager: manager}
}

type CreateSessionRequest struct {
	SessionID  string `json:"sessionId"`
	Name       string `json:"name"`
	Port       int    `json:"port"`
	WebhookURL string `json:"webhookUrl"`
	Start      bool   `json:"start"`
}

func (h *AdminHandler) ListSessions(c echo.Context) error {
	sessions, err := h.manager.Sessions(c.Request().Context())
	if err != nil {
		return writeControllerError(c, err)
	}
	if sessions == nil {
		sessions = []model.SessionView{}
	}
	return SuccessResponse(c, http.StatusOK, "", echo.Map{"sessions": sessions})
}

func (h *AdminHandler) GetSession(c echo.Context) error {
	view, err := h.manager.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeControllerError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "", echo.Map{"session": view})
}

func (h *AdminHandler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	var errs []FieldError
	if err := config.ValidateSessionID(req.SessionID); err != nil {
		errs = append(errs, FieldError{Field: "sessionId", Message: err.Error()})
	}
	if req.Port < 0 || req.Port > 65535 {
		errs = append(errs, FieldError{Field: "port", Message: "port must be between 1 and 65535"})
	}
	if req.WebhookURL != "" {
		if u, err := url.Parse(req.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{Field: "webhookUrl", Message: "webhookUrl must be an absolute http(s) URL"})
		}
	}
	if len(errs) > 0 {
		return ValidationErrorResponse(c, http.StatusUnprocessableEntity, "Invalid request", errs)
	}

	ctx := c.Request().Context()
	view, err := h.manager.Create(ctx, config.SessionConfig{
		ID:         req.SessionID,
		Name:       req.Name,
		Port:       req.Port,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		return writeControllerError(c, err)
	}
	if req.Start {
		if view, err = h.manager.StartSession(ctx, view.SessionID); err != nil {
			return writeControllerError(c, err)
		}
	}
	return SuccessResponse(c, http.StatusCreated, "Session created", echo.Map{"session": view})
}

func (h *AdminHandler) StartSession(c echo.Context) error {
	view, err := h.manager.StartSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeControllerError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Session started", echo.Map{"session": view})
}

func (h *AdminHandler) StopSession(c echo.Context) error {
	if err := h.manager.StopSession(c.Request().Context(), c.Param("id")); err != nil {
		return writeControllerError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Session stopped", nil)
}

func (h *AdminHandler) DeleteSession(c echo.Context) error {
	if err := h.manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeControllerError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Session deleted", nil)
}
