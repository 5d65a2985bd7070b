package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/dto"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/service"
)

type SessionHandler struct {
	admission service.AdmissionController
	sessions  service.SessionManager
}

func NewSessionHandler(admission service.AdmissionController, sessions service.SessionManager) *SessionHandler {
	return &SessionHandler{
		admission: admission,
		sessions:  sessions,
	}
}

func (h *SessionHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Err(service.CodeValidation, err.Error(), nil))
		return
	}

	result, err := h.admission.Admit(ctx, service.AdmitParams{
		AccountID:          req.AccountID,
		ShopID:             req.ShopID,
		ShopName:           req.ShopName,
		Platform:           req.Platform,
		TaskType:           model.TaskType(req.TaskType),
		ExternalTaskID:     req.ExternalTaskID,
		SendContent:        req.SendContent,
		MaxInactiveMinutes: req.MaxInactiveMinutes,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	message := "session created"
	if result.Outcome == service.AdmissionDuplicate {
		message = "session already exists for external task"
	}

	c.JSON(http.StatusOK, dto.OK(message, dto.CreateSessionResponse{
		SessionID:      result.SessionID,
		ExternalTaskID: req.ExternalTaskID,
		TaskType:       string(result.TaskType),
		CreatedAt:      result.CreatedAt.Format(time.RFC3339),
	}))
}

func (h *SessionHandler) Complete(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("session_id")

	var req dto.CompleteSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Err(service.CodeValidation, err.Error(), nil))
		return
	}

	if err := h.sessions.Complete(ctx, sessionID, *req.Success, req.ErrorMessage); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.OK("session completed", gin.H{
		"session_id":   sessionID,
		"success":      *req.Success,
		"completed_at": time.Now().Format(time.RFC3339),
	}))
}

func (h *SessionHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("session_id")

	status, err := h.sessions.Status(ctx, sessionID)
	if err != nil {
		respondErr(c, err)
		return
	}

	data := gin.H{
		"session_id":       status.Session.SessionID,
		"account_id":       status.Session.AccountID,
		"task_type":        status.Session.TaskType,
		"session_state":    status.Session.State,
		"priority":         status.Session.Priority,
		"message_count":    status.Session.MessageCount,
		"created_at":       status.Session.CreatedAt.Format(time.RFC3339),
		"last_activity_at": status.Session.LastActivityAt.Format(time.RFC3339),
	}
	if status.Task != nil {
		data["external_task_id"] = status.Task.ExternalTaskID
		data["task_status"] = status.Task.Status
		data["send_content"] = status.Task.SendContent
	}

	c.JSON(http.StatusOK, dto.OK("session status", data))
}
