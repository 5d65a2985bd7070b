package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/dto"
	"chatbroker.app/broker/internal/service"
)

// Recovery converts panics into the shared envelope instead of gin's default
// plain-text response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered",
					"panic", r,
					"path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					dto.Err(service.CodeInternal, "internal server error", nil))
			}
		}()
		c.Next()
	}
}
