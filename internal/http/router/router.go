package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/handler"
	"chatbroker.app/broker/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "chat broker is running"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		sessionHandler := handler.NewSessionHandler(services.Admission(), services.Sessions())
		SessionRouter(api.Group("/sessions"), sessionHandler)

		taskHandler := handler.NewTaskHandler(services.Dispatcher())
		TaskRouter(api.Group("/tasks"), taskHandler)

		messageHandler := handler.NewMessageHandler(services.Ingestor())
		MessageRouter(api.Group("/messages"), messageHandler)
	}
}
