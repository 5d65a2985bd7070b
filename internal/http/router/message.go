package router

import (
	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/handler"
)

func MessageRouter(router *gin.RouterGroup, handler *handler.MessageHandler) {
	router.POST("/batch", handler.Batch)
}
