package router

import (
	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/handler"
)

func SessionRouter(router *gin.RouterGroup, handler *handler.SessionHandler) {
	router.POST("/create", handler.Create)
	router.POST("/:session_id/complete", handler.Complete)
	router.GET("/:session_id/status", handler.Status)
}
