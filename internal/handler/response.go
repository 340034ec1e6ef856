package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coverx/internal/fault"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fault maps a classified engine error onto an HTTP status so callers can
// tell retryable rejections apart from caller mistakes.
func Fault(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindPolicy:
		status = http.StatusUnprocessableEntity
	case fault.KindTripped:
		status = http.StatusLocked
	case fault.KindDependency:
		status = http.StatusBadGateway
	case fault.KindFatal:
		status = http.StatusInternalServerError
	}
	Error(c, status, err.Error(), map[string]any{"kind": fault.KindOf(err).String()})
}
