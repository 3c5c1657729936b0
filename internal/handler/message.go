package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SendMessageRequest accepts number/message as aliases of address/body.
type SendMessageRequest struct {
	Address string `json:"address"`
	Body    string `json:"body"`
	Number  string `json:"number"`
	Message string `json:"message"`
}

func (r *SendMessageRequest) normalize() {
	if r.Address == "" {
		r.Address = r.Number
	}
	if r.Body == "" {
		r.Body = r.Message
	}
	r.Address = strings.TrimSpace(r.Address)
}

type SendMediaRequest struct {
	Address  string `json:"address"`
	Number   string `json:"number"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption"`
}

func (h *SessionHandler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	req.normalize()

	var errs []FieldError
	if req.Address == "" {
		errs = append(errs, FieldError{Field: "address", Message: "address is required"})
	}
	if req.Body == "" {
		errs = append(errs, FieldError{Field: "body", Message: "body is required"})
	}
	if len(errs) > 0 {
		return ValidationErrorResponse(c, http.StatusUnprocessableEntity, "Invalid request", errs)
	}

	receipt, err := h.ctrl.SendMessage(c.Request().Context(), req.Address, req.Body)
	if err != nil {
		return writeControllerError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Message sent", echo.Map{"receipt": receipt})
}

func (h *SessionHandler) SendMedia(c echo.Context) error {
	var req SendMediaRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	if req.Address == "" {
		req.Address = req.Number
	}
	req.Address = strings.TrimSpace(req.Address)
	req.MediaURL = strings.TrimSpace(req.MediaURL)

	var errs []FieldError
	if req.Address == "" {
		errs = append(errs, FieldError{Field: "address", Message: "address is required"})
	}
	if req.MediaURL == "" {
		errs = append(errs, FieldError{Field: "mediaUrl", Message: "mediaUrl is required"})
	}
	if len(errs) > 0 {
		return ValidationErrorResponse(c, http.StatusUnprocessableEntity, "Invalid request", errs)
	}

	receipt, err := h.ctrl.SendMedia(c.Request().Context(), req.Address, req.MediaURL, req.Caption)
	if err != nil {
		return writeControllerError(c, err)
	}
	return SuccessResponse(c, http.StatusOK, "Media sent", echo.Map{"receipt": receipt})
}
