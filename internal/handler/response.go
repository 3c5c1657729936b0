package handler

import (
	"github.com/labstack/echo/v4"
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse writes {ok:false, message, code, error}.
func ErrorResponse(c echo.Context, status int, message, code, detail string) error {
	body := echo.Map{
		"ok":      false,
		"message": message,
	}
	if code != "" {
		body["code"] = code
	}
	if detail != "" {
		body["error"] = detail
	}
	return c.JSON(status, body)
}

// ValidationErrorResponse writes {ok:false, message, errors:[{field,message}]}.
func ValidationErrorResponse(c echo.Context, status int, message string, errs []FieldError) error {
	return c.JSON(status, echo.Map{
		"ok":      false,
		"message": message,
		"code":    "VALIDATION_ERROR",
		"errors":  errs,
	})
}

// SuccessResponse writes {ok:true, message} merged with fields.
func SuccessResponse(c echo.Context, status int, message string, fields echo.Map) error {
	body := echo.Map{"ok": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(status, body)
}
