package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chatbroker.app/broker/internal/http/dto"
	"chatbroker.app/broker/internal/service"
)

type TaskHandler struct {
	dispatcher service.TaskDispatcher
}

func NewTaskHandler(dispatcher service.TaskDispatcher) *TaskHandler {
	return &TaskHandler{dispatcher: dispatcher}
}

// NextID pops the next queued send task for an RPA worker. An empty queue is
// not an error; workers poll on their own schedule.
func (h *TaskHandler) NextID(c *gin.Context) {
	ctx := c.Request.Context()

	taskID, err := h.dispatcher.NextTaskID(ctx)
	if err != nil {
		respondErr(c, err)
		return
	}

	if taskID == nil {
		c.JSON(http.StatusOK, dto.Envelope{
			Success: false,
			Message: "no pending tasks",
			Data:    gin.H{"task_id": nil},
		})
		return
	}

	c.JSON(http.StatusOK, dto.OK("task acquired", gin.H{
		"task_id":   strconv.FormatInt(*taskID, 10),
		"timestamp": time.Now().Format(time.RFC3339),
	}))
}

func (h *TaskHandler) SendInfo(c *gin.Context) {
	ctx := c.Request.Context()

	taskID, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.Err(service.CodeValidation, "task_id must be numeric", nil))
		return
	}

	info, err := h.dispatcher.SendInfo(ctx, taskID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.OK("send info", info))
}

func (h *TaskHandler) Pending(c *gin.Context) {
	ctx := c.Request.Context()

	limit := int64(10)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, dto.Err(service.CodeValidation, "limit must be a positive integer", nil))
			return
		}
		limit = parsed
	}

	tasks, err := h.dispatcher.PendingTasks(ctx, int32(limit))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.OK("pending tasks", gin.H{
		"tasks": tasks,
		"count": len(tasks),
		"limit": limit,
	}))
}
