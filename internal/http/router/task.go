package router

import (
	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/handler"
)

func TaskRouter(router *gin.RouterGroup, handler *handler.TaskHandler) {
	router.GET("/next_id", handler.NextID)
	router.GET("/pending", handler.Pending)
	router.GET("/:task_id/send_info", handler.SendInfo)
}
