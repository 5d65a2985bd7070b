package model

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSent      TaskStatus = "sent"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// SendTask is the single outbound-send unit bound to a bot session at
// creation. TaskID doubles as the queue key; the queue carries nothing but
// its decimal string form.
type SendTask struct {
	TaskID         int64      `json:"task_id"`
	SessionID      string     `json:"session_id"`
	ExternalTaskID string     `json:"external_task_id"`
	TaskType       TaskType   `json:"task_type"`
	SendContent    string     `json:"send_content"`
	ShopName       string     `json:"shop_name"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
