package model

import "time"

// TaskType classifies what kind of work a session carries. AUTO_* types are
// driven by the bot pipeline; MANUAL_* types belong to human operators.
type TaskType string

const (
	TaskTypeAutoBargain  TaskType = "auto_bargain"
	TaskTypeAutoFollowUp TaskType = "auto_follow_up"

	TaskTypeManualCustomerService TaskType = "manual_customer_service"
	TaskTypeManualComplaint       TaskType = "manual_complaint"
	TaskTypeManualUrgent          TaskType = "manual_urgent"
)

// Priority levels, lower value wins.
const (
	PriorityEmergency = 1 // manual_urgent
	PriorityHigh      = 2 // manual_customer_service, manual_complaint
	PriorityMedium    = 3 // auto_bargain
	PriorityLow       = 4 // auto_follow_up
)

// Priority maps a task type to its numeric priority (1 = highest).
func (t TaskType) Priority() int {
	switch t {
	case TaskTypeManualUrgent:
		return PriorityEmergency
	case TaskTypeManualCustomerService, TaskTypeManualComplaint:
		return PriorityHigh
	case TaskTypeAutoBargain:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// IsBot reports whether the task type is executed by the bot pipeline.
func (t TaskType) IsBot() bool {
	switch t {
	case TaskTypeAutoBargain, TaskTypeAutoFollowUp:
		return true
	}
	return false
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeAutoBargain, TaskTypeAutoFollowUp,
		TaskTypeManualCustomerService, TaskTypeManualComplaint, TaskTypeManualUrgent:
		return true
	}
	return false
}

// CreatedBy returns the session owner category recorded for audit queries.
func (t TaskType) CreatedBy() string {
	if t.IsBot() {
		return CreatedByRobot
	}
	return CreatedByHuman
}

const (
	CreatedByRobot = "robot"
	CreatedByHuman = "human"
)

type SessionState string

const (
	SessionPending     SessionState = "pending"
	SessionActive      SessionState = "active"
	SessionCompleted   SessionState = "completed"
	SessionTransferred SessionState = "transferred"
	SessionPaused      SessionState = "paused"
	SessionCancelled   SessionState = "cancelled"
	SessionTimeout     SessionState = "timeout"
)

// Terminal reports whether the state is read-only. Terminal sessions are
// retained for audit and only accept message back-references.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionTimeout:
		return true
	}
	return false
}

// NonTerminalStates lists every state a session can still leave. The
// single-active-session invariant covers only pending, active, and
// transferred: a paused session is parked outside the (account, shop) slot,
// so a pair can hold one paused session next to the session that preempted it.
var NonTerminalStates = []SessionState{
	SessionPending, SessionActive, SessionPaused, SessionTransferred,
}

// Session is a logical conversation binding on an (account_id, shop_id) pair.
type Session struct {
	SessionID          string       `json:"session_id"`
	AccountID          string       `json:"account_id"`
	ShopID             string       `json:"shop_id"`
	ShopName           string       `json:"shop_name"`
	Platform           string       `json:"platform"`
	TaskType           TaskType     `json:"task_type"`
	State              SessionState `json:"state"`
	CreatedBy          string       `json:"created_by"`
	Priority           int          `json:"priority"`
	ExternalTaskID     *string      `json:"external_task_id,omitempty"`
	MessageCount       int          `json:"message_count"`
	MaxInactiveMinutes int          `json:"max_inactive_minutes"`
	CreatedAt          time.Time    `json:"created_at"`
	LastActivityAt     time.Time    `json:"last_activity_at"`
	TransferredAt      *time.Time   `json:"transferred_at,omitempty"`
	TransferReason     *string      `json:"transfer_reason,omitempty"`
}
