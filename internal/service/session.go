package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatbroker.app/broker/common/id"
	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/store"
)

// SessionManager owns the session state machine: completion, transfer,
// release, cancel, touch, and reap. It is not the only writer: admission
// pauses a preempted session, the dispatcher flips send-task status
// (pending -> sent, failed -> pending), and the ingestor times out a session
// past the conversation gap and runs the transfer inside its own
// transaction. Every transition is a conditional update so concurrent
// callers cannot drive a session off the allowed graph.
type SessionManager interface {
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	// Complete finishes a session. On success the latest sent task is
	// completed and the session moves to completed; on failure the session
	// is cancelled and its task failed.
	Complete(ctx context.Context, sessionID string, success bool, errMessage *string) error
	// Transfer hands an active session over to a human operator.
	Transfer(ctx context.Context, sessionID, reason string, urgency model.UrgencyLevel) error
	// Release resumes a paused session after its preemptor is gone.
	Release(ctx context.Context, sessionID string) error
	// Cancel abandons a pending or paused session.
	Cancel(ctx context.Context, sessionID, reason string) error
	// Touch advances last_activity_at monotonically.
	Touch(ctx context.Context, sessionID string, at time.Time) error
	// Reap times out every non-terminal session whose inactivity window has
	// elapsed. Idempotent; safe to run from multiple workers.
	Reap(ctx context.Context) ([]model.Session, error)
	// Status returns the session joined with its latest send task.
	Status(ctx context.Context, sessionID string) (*SessionStatus, error)
}

type SessionStatus struct {
	Session *model.Session
	Task    *model.SendTask
}

type sessionManager struct {
	stores   StoreProvider
	txRunner TxRunner
	logger   *slog.Logger
}

func NewSessionManager(stores StoreProvider, txRunner TxRunner, log *slog.Logger) SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &sessionManager{
		stores:   stores,
		txRunner: txRunner,
		logger:   log,
	}
}

func (m *sessionManager) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := m.stores.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(CodeSessionNotFound, "session %s not found", sessionID)
		}
		return nil, err
	}
	return sess, nil
}

func (m *sessionManager) Complete(ctx context.Context, sessionID string, success bool, errMessage *string) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID),
		Component: "broker.service.session",
	})
	now := time.Now()

	return m.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		sess, err := sp.Sessions().GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewError(CodeSessionNotFound, "session %s not found", sessionID)
			}
			return err
		}

		task, err := sp.Tasks().GetLatestBySession(ctx, sessionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("looking up send task: %w", err)
		}

		if !success {
			return m.failInTx(ctx, sp, sess, task, errMessage, now)
		}

		// First-send coupling: completing the sent task activates a pending
		// session in the same transaction before the terminal transition.
		if task != nil && task.Status == model.TaskSent {
			if _, err := sp.Tasks().SetStatus(ctx, task.TaskID, []model.TaskStatus{model.TaskSent}, model.TaskCompleted, now); err != nil {
				return err
			}
			if _, err := sp.Sessions().SetState(ctx, sessionID, []model.SessionState{model.SessionPending}, model.SessionActive, now); err != nil {
				return err
			}
		}

		ok, err := sp.Sessions().SetState(ctx, sessionID,
			[]model.SessionState{model.SessionActive, model.SessionTransferred}, model.SessionCompleted, now)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(CodeInvalidState, "session %s cannot complete from %s", sessionID, sess.State)
		}

		if err := sp.Operations().Append(ctx, &model.SessionOperation{
			ID:        id.New(),
			SessionID: sessionID,
			OpType:    model.OpSessionCompleted,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if err := releasePausedInTx(ctx, sp, sess.AccountID, sess.ShopID, now); err != nil {
			return err
		}

		m.logger.InfoContext(ctx, "session completed")
		return nil
	})
}

func (m *sessionManager) failInTx(ctx context.Context, sp StoreProvider, sess *model.Session, task *model.SendTask, errMessage *string, now time.Time) error {
	ok, err := sp.Sessions().SetState(ctx, sess.SessionID, model.NonTerminalStates, model.SessionCancelled, now)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(CodeInvalidState, "session %s cannot cancel from %s", sess.SessionID, sess.State)
	}

	if task != nil {
		if _, err := sp.Tasks().SetStatus(ctx, task.TaskID,
			[]model.TaskStatus{model.TaskPending, model.TaskSent}, model.TaskFailed, now); err != nil {
			return err
		}
	}

	reason := ""
	if errMessage != nil {
		reason = *errMessage
	}
	if err := sp.Operations().Append(ctx, &model.SessionOperation{
		ID:        id.New(),
		SessionID: sess.SessionID,
		OpType:    model.OpSessionCancelled,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	if err := releasePausedInTx(ctx, sp, sess.AccountID, sess.ShopID, now); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "session cancelled", "reason", reason)
	return nil
}

// releasePausedInTx resumes the pair's parked session, if any, once the
// session holding the slot has reached a terminal state.
func releasePausedInTx(ctx context.Context, sp StoreProvider, accountID, shopID string, now time.Time) error {
	paused, err := sp.Sessions().GetPausedByPair(ctx, accountID, shopID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	ok, err := sp.Sessions().SetState(ctx, paused.SessionID,
		[]model.SessionState{model.SessionPaused}, model.SessionActive, now)
	if err != nil || !ok {
		return err
	}

	return sp.Operations().Append(ctx, &model.SessionOperation{
		ID:        id.New(),
		SessionID: paused.SessionID,
		OpType:    model.OpSessionReleased,
		Reason:    "preemption_released",
		CreatedAt: now,
	})
}

func (m *sessionManager) Transfer(ctx context.Context, sessionID, reason string, urgency model.UrgencyLevel) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID),
		Component: "broker.service.session",
	})
	if urgency == "" {
		urgency = model.UrgencyMedium
	}
	now := time.Now()

	return m.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		return transferInTx(ctx, sp, sessionID, reason, urgency, now)
	})
}

// transferInTx performs the ACTIVE -> TRANSFERRED transition with its
// transfer record and outbox row. Shared with the message ingestor, which
// transfers inside its own transaction.
func transferInTx(ctx context.Context, sp StoreProvider, sessionID, reason string, urgency model.UrgencyLevel, now time.Time) error {
	ok, err := sp.Sessions().MarkTransferred(ctx, sessionID, reason,
		[]model.SessionState{model.SessionActive}, now)
	if err != nil {
		return err
	}
	if !ok {
		sess, err := sp.Sessions().GetByID(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return NewError(CodeSessionNotFound, "session %s not found", sessionID)
		}
		if err != nil {
			return err
		}
		return NewError(CodeInvalidState, "session %s cannot transfer from %s", sessionID, sess.State)
	}

	if err := sp.Transfers().Create(ctx, &model.TransferRecord{
		ID:            id.New(),
		SessionID:     sessionID,
		FromType:      model.CreatedByRobot,
		ToType:        model.CreatedByHuman,
		Reason:        reason,
		Urgency:       urgency,
		Status:        model.TransferPending,
		TransferredAt: now,
	}); err != nil {
		return err
	}

	return sp.Operations().Append(ctx, &model.SessionOperation{
		ID:        id.New(),
		SessionID: sessionID,
		OpType:    model.OpSessionTransferred,
		Reason:    reason,
		Notify:    true,
		CreatedAt: now,
	})
}

func (m *sessionManager) Release(ctx context.Context, sessionID string) error {
	now := time.Now()
	return m.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		ok, err := sp.Sessions().SetState(ctx, sessionID,
			[]model.SessionState{model.SessionPaused}, model.SessionActive, now)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(CodeInvalidState, "session %s is not paused", sessionID)
		}
		return sp.Operations().Append(ctx, &model.SessionOperation{
			ID:        id.New(),
			SessionID: sessionID,
			OpType:    model.OpSessionReleased,
			CreatedAt: now,
		})
	})
}

func (m *sessionManager) Cancel(ctx context.Context, sessionID, reason string) error {
	now := time.Now()
	return m.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		sess, err := sp.Sessions().GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewError(CodeSessionNotFound, "session %s not found", sessionID)
			}
			return err
		}

		ok, err := sp.Sessions().SetState(ctx, sessionID,
			[]model.SessionState{model.SessionPending, model.SessionPaused}, model.SessionCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(CodeInvalidState, "session %s cannot cancel", sessionID)
		}
		if err := sp.Tasks().CancelPendingBySession(ctx, sessionID, now); err != nil {
			return err
		}
		if err := sp.Operations().Append(ctx, &model.SessionOperation{
			ID:        id.New(),
			SessionID: sessionID,
			OpType:    model.OpSessionCancelled,
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return releasePausedInTx(ctx, sp, sess.AccountID, sess.ShopID, now)
	})
}

func (m *sessionManager) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return m.stores.Sessions().Touch(ctx, sessionID, at)
}

func (m *sessionManager) Reap(ctx context.Context) ([]model.Session, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "broker.service.session"})
	now := time.Now()

	var reaped []model.Session
	err := m.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		var err error
		reaped, err = sp.Sessions().ReapTimedOut(ctx, now)
		if err != nil {
			return err
		}

		for _, sess := range reaped {
			if err := sp.Tasks().CancelPendingBySession(ctx, sess.SessionID, now); err != nil {
				return err
			}
			if err := sp.Operations().Append(ctx, &model.SessionOperation{
				ID:        id.New(),
				SessionID: sess.SessionID,
				OpType:    model.OpSessionTimedOut,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(reaped) > 0 {
		m.logger.InfoContext(ctx, "reaped inactive sessions", "count", len(reaped))
	}
	return reaped, nil
}

func (m *sessionManager) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	task, err := m.stores.Tasks().GetLatestBySession(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &SessionStatus{Session: sess, Task: task}, nil
}
