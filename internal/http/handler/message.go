package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/dto"
	"chatbroker.app/broker/internal/service"
)

type MessageHandler struct {
	ingestor service.MessageIngestor
}

func NewMessageHandler(ingestor service.MessageIngestor) *MessageHandler {
	return &MessageHandler{ingestor: ingestor}
}

func (h *MessageHandler) Batch(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.MessageBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Err(service.CodeValidation, err.Error(), nil))
		return
	}

	messages := make([]service.InboundMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = service.InboundMessage{
			ID:      m.ID,
			Nick:    m.Nick,
			Time:    m.Time,
			Content: m.Content,
		}
	}

	result, err := h.ingestor.Ingest(ctx, service.IngestParams{
		ShopName:           req.ShopName,
		Platform:           req.Platform,
		AccountID:          req.AccountID,
		MaxInactiveMinutes: req.MaxInactiveMinutes,
		Messages:           messages,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.OK("message batch processed", result))
}
