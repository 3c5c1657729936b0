package handler

import (
	"net/http"

	"wabot-gateway/internal/model"
	"wabot-gateway/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// writeControllerError maps controller and registry failures to HTTP responses.
func writeControllerError(c echo.Context, err error) error {
	var (
		invalidAddr *service.InvalidAddressError
		fetchErr    *service.MediaFetchError
		sendErr     *service.SendFailedError
	)

	switch {
	case errors.Is(err, service.ErrNotReady):
		return ErrorResponse(c, http.StatusConflict, "Bot is not ready", "NOT_READY", "")
	case errors.Is(err, service.ErrEmptyBody):
		return ValidationErrorResponse(c, http.StatusUnprocessableEntity, "Invalid request", []FieldError{
			{Field: "body", Message: "body must not be empty"},
		})
	case errors.As(err, &invalidAddr):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"ok":      false,
			"message": "Invalid address",
			"code":    "INVALID_ADDRESS",
			"errors":  []FieldError{{Field: "address", Message: invalidAddr.Error()}},
		})
	case errors.As(err, &fetchErr):
		return ErrorResponse(c, http.StatusBadGateway, "Failed to fetch media", "MEDIA_FETCH_FAILED", fetchErr.Error())
	case errors.As(err, &sendErr):
		return ErrorResponse(c, http.StatusBadGateway, "Failed to send message", "SEND_FAILED", sendErr.Err.Error())

	case errors.Is(err, model.ErrSessionNotFound):
		return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
	case errors.Is(err, model.ErrSessionExists):
		return ErrorResponse(c, http.StatusConflict, "Session already exists", "SESSION_EXISTS", "")
	case errors.Is(err, model.ErrSessionRunning):
		return ErrorResponse(c, http.StatusConflict, "Session is running, stop it first", "SESSION_RUNNING", "")
	case errors.Is(err, model.ErrSessionNotRunning):
		return ErrorResponse(c, http.StatusConflict, "Session is not running", "SESSION_NOT_RUNNING", "")
	case errors.Is(err, model.ErrPortTaken):
		return ErrorResponse(c, http.StatusConflict, "Port is already used by another session", "PORT_TAKEN", err.Error())
	}
	return ErrorResponse(c, http.StatusInternalServerError, "Internal Server Error", "INTERNAL", err.Error())
}
