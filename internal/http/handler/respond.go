package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/dto"
	"chatbroker.app/broker/internal/service"
)

// respondErr maps a service error to its HTTP status and the shared
// envelope. Conflicts carry the holding session in data.
func respondErr(c *gin.Context, err error) {
	var conflict *service.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, dto.Err(service.CodeUnavailable, err.Error(), gin.H{
			"conflict_session_id": conflict.SessionID,
			"conflict_task_type":  conflict.TaskType,
		}))
		return
	}

	code := service.ErrCode(err)
	status := statusFor(code)
	if status >= 500 {
		slog.ErrorContext(c.Request.Context(), "request failed", "error", err, "code", code)
	}
	c.JSON(status, dto.Err(code, err.Error(), nil))
}

func statusFor(code string) int {
	switch code {
	case service.CodeValidation, service.CodeNoAccount:
		return http.StatusBadRequest
	case service.CodeSessionNotFound, service.CodeTaskNotFound:
		return http.StatusNotFound
	case service.CodeInvalidState:
		return http.StatusConflict
	case service.CodeUnavailable, service.CodeDeadlineExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
