package store

import (
	"context"
	"errors"
	"time"

	"chatbroker.app/broker/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrActiveExists is returned when inserting a session would violate the
// single-active-session invariant (partial unique index on the pair).
var ErrActiveExists = errors.New("active session exists for pair")

// ErrDuplicateTask is returned when a send task with the same
// external_task_id already exists.
var ErrDuplicateTask = errors.New("duplicate external task id")

// SessionStore defines the contract for session data access.
// The service layer is the only writer of session state.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID string) (*model.Session, error)
	// GetByExternalTaskID returns the session created for a caller task key,
	// backing idempotent admission replays.
	GetByExternalTaskID(ctx context.Context, externalTaskID string) (*model.Session, error)
	// GetCurrent returns the session holding the pair's slot (pending,
	// active, or transferred), or ErrNotFound. Paused sessions are parked
	// outside the slot.
	GetCurrent(ctx context.Context, accountID, shopID string) (*model.Session, error)
	// GetPausedByPair returns the most recently parked session for the pair.
	GetPausedByPair(ctx context.Context, accountID, shopID string) (*model.Session, error)
	// GetCurrentByShopName resolves the current session by shop display
	// name, the only key inbound message batches carry. The account is not
	// part of the lookup: a takeover by a different account nick must still
	// land on the session holding the shop.
	GetCurrentByShopName(ctx context.Context, shopName string) (*model.Session, error)
	Create(ctx context.Context, s *model.Session) error
	// SetState performs a conditional transition: state moves to 'to' only if
	// it is currently one of 'from'. Reports whether a row changed.
	SetState(ctx context.Context, sessionID string, from []model.SessionState, to model.SessionState, at time.Time) (bool, error)
	// Pause parks the session with the given transfer reason.
	Pause(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)
	// MarkTransferred flips to transferred, stamping transferred_at and the
	// reason, from the given states only.
	MarkTransferred(ctx context.Context, sessionID, reason string, from []model.SessionState, at time.Time) (bool, error)
	// Touch advances last_activity_at monotonically (GREATEST).
	Touch(ctx context.Context, sessionID string, at time.Time) error
	AddMessageCount(ctx context.Context, sessionID string, n int) error
	// ReapTimedOut transitions every non-terminal session whose inactivity
	// window has elapsed to timeout and returns the reaped rows.
	ReapTimedOut(ctx context.Context, now time.Time) ([]model.Session, error)
}

// TaskStore defines the contract for send-task data access.
type TaskStore interface {
	GetByID(ctx context.Context, taskID int64) (*model.SendTask, error)
	GetByExternalID(ctx context.Context, externalTaskID string) (*model.SendTask, error)
	// GetLatestBySession returns the most recently created task for a session.
	GetLatestBySession(ctx context.Context, sessionID string) (*model.SendTask, error)
	// ListOutstanding returns tasks for a session created after the cutoff,
	// used by the human-intervention content match.
	ListOutstanding(ctx context.Context, sessionID string, since time.Time) ([]model.SendTask, error)
	ListPending(ctx context.Context, limit int32) ([]model.SendTask, error)
	// ListStalePending returns pending tasks created before the cutoff; the
	// reconciler re-queues them.
	ListStalePending(ctx context.Context, olderThan time.Time) ([]model.SendTask, error)
	Create(ctx context.Context, t *model.SendTask) error
	// MarkSent flips pending -> sent. At-most-once: only the first call
	// changes the row.
	MarkSent(ctx context.Context, taskID int64, at time.Time) (bool, error)
	// SetStatus performs a conditional status transition.
	SetStatus(ctx context.Context, taskID int64, from []model.TaskStatus, to model.TaskStatus, at time.Time) (bool, error)
	// CancelPendingBySession fails any pending task of a dead session.
	CancelPendingBySession(ctx context.Context, sessionID string, at time.Time) error
}

// MessageStore defines the contract for inbound message persistence.
type MessageStore interface {
	// ExistingIDs reports which of the given platform message IDs are already
	// stored.
	ExistingIDs(ctx context.Context, messageIDs []string) (map[string]struct{}, error)
	// CreateBatch inserts messages, skipping duplicates, and returns the
	// number actually inserted.
	CreateBatch(ctx context.Context, msgs []model.Message) (int, error)
	// LatestForShop returns the newest stored message for the shop, or
	// ErrNotFound.
	LatestForShop(ctx context.Context, shopName string) (*model.Message, error)
}

// TransferStore records bot-to-human handovers.
type TransferStore interface {
	Create(ctx context.Context, t *model.TransferRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]model.TransferRecord, error)
}

// OperationStore is the session audit log and notification outbox.
type OperationStore interface {
	Append(ctx context.Context, op *model.SessionOperation) error
	// ListUnnotified returns outbox rows awaiting delivery, oldest first.
	ListUnnotified(ctx context.Context, limit int32) ([]model.SessionOperation, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) error
}
