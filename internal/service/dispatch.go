package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/core/config"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/queue"
	"chatbroker.app/broker/internal/store"
)

// SendInfo is everything an RPA worker needs to perform one send.
type SendInfo struct {
	SendContent string `json:"send_content"`
	SendURL     string `json:"send_url"`
	ShopName    string `json:"shop_name"`
}

// TaskDispatcher couples the durable send-task record with the FIFO queue.
// Hand-off is at-most-once: popping consumes the queue entry, and a worker
// that crashes before fetching the payload is repaired by Reconcile.
type TaskDispatcher interface {
	// NextTaskID pops the next task ID without blocking; nil when empty.
	NextTaskID(ctx context.Context) (*int64, error)
	// SendInfo returns the payload for a popped task and flips the task
	// pending -> sent on first read. Repeated reads return the same payload.
	SendInfo(ctx context.Context, taskID int64) (*SendInfo, error)
	// Complete reports the send outcome; delegates to the session manager.
	Complete(ctx context.Context, sessionID string, success bool, errMessage *string) error
	// RetryFailed re-opens a failed task and re-queues it.
	RetryFailed(ctx context.Context, taskID int64) error
	// Reconcile re-queues tasks stuck in pending past the grace window and
	// returns how many were pushed.
	Reconcile(ctx context.Context) (int, error)
	// PendingTasks lists tasks not yet handed to a worker, newest first.
	PendingTasks(ctx context.Context, limit int32) ([]model.SendTask, error)
}

type taskDispatcher struct {
	stores   StoreProvider
	queue    queue.Queue
	sessions SessionManager
	sendURL  config.SendURLConfig
	grace    time.Duration
	logger   *slog.Logger
}

func NewTaskDispatcher(stores StoreProvider, q queue.Queue, sessions SessionManager, sendURL config.SendURLConfig, grace time.Duration, log *slog.Logger) TaskDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &taskDispatcher{
		stores:   stores,
		queue:    q,
		sessions: sessions,
		sendURL:  sendURL,
		grace:    grace,
		logger:   log,
	}
}

func (d *taskDispatcher) NextTaskID(ctx context.Context) (*int64, error) {
	var taskID int64
	var ok bool

	err := withBackoff(ctx, func(ctx context.Context) error {
		var popErr error
		taskID, ok, popErr = d.queue.Pop(ctx)
		if popErr != nil {
			return retry.RetryableError(popErr)
		}
		return nil
	})
	if err != nil {
		return nil, NewError(CodeUnavailable, "queue unavailable: %v", err)
	}
	if !ok {
		return nil, nil
	}
	return &taskID, nil
}

func (d *taskDispatcher) SendInfo(ctx context.Context, taskID int64) (*SendInfo, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TaskID:    logger.Ptr(taskID),
		Component: "broker.service.dispatch",
	})

	task, err := d.stores.Tasks().GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(CodeTaskNotFound, "task %d not found", taskID)
		}
		return nil, err
	}

	sess, err := d.stores.Sessions().GetByID(ctx, task.SessionID)
	if err != nil {
		return nil, fmt.Errorf("looking up session for task: %w", err)
	}

	sendURL, err := d.deriveSendURL(sess.Platform, sess.ShopID)
	if err != nil {
		return nil, err
	}

	// Conditional flip: concurrent readers all get the payload, exactly one
	// marks the task sent.
	flipped, err := d.stores.Tasks().MarkSent(ctx, taskID, time.Now())
	if err != nil {
		return nil, err
	}
	if flipped {
		d.logger.InfoContext(ctx, "task handed to worker", "session_id", task.SessionID)
	}

	return &SendInfo{
		SendContent: task.SendContent,
		SendURL:     sendURL,
		ShopName:    task.ShopName,
	}, nil
}

func (d *taskDispatcher) Complete(ctx context.Context, sessionID string, success bool, errMessage *string) error {
	return d.sessions.Complete(ctx, sessionID, success, errMessage)
}

func (d *taskDispatcher) RetryFailed(ctx context.Context, taskID int64) error {
	ok, err := d.stores.Tasks().SetStatus(ctx, taskID,
		[]model.TaskStatus{model.TaskFailed}, model.TaskPending, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return NewError(CodeInvalidState, "task %d is not failed", taskID)
	}

	if _, err := d.queue.Push(ctx, taskID); err != nil {
		return NewError(CodeUnavailable, "re-queueing task %d: %v", taskID, err)
	}
	return nil
}

func (d *taskDispatcher) Reconcile(ctx context.Context) (int, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "broker.service.dispatch"})

	stale, err := d.stores.Tasks().ListStalePending(ctx, time.Now().Add(-d.grace))
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, task := range stale {
		added, err := d.queue.Push(ctx, task.TaskID)
		if err != nil {
			d.logger.WarnContext(ctx, "reconcile push failed", "task_id", task.TaskID, "error", err)
			continue
		}
		if added {
			pushed++
		}
	}

	if pushed > 0 {
		d.logger.InfoContext(ctx, "reconciled stale tasks", "stale", len(stale), "pushed", pushed)
	}
	return pushed, nil
}

func (d *taskDispatcher) PendingTasks(ctx context.Context, limit int32) ([]model.SendTask, error) {
	if limit <= 0 {
		limit = 10
	}
	return d.stores.Tasks().ListPending(ctx, limit)
}

func (d *taskDispatcher) deriveSendURL(platform, shopID string) (string, error) {
	tmpl, ok := d.sendURL.Templates[platform]
	if !ok {
		return "", NewError(CodeValidation, "no send url template for platform %q", platform)
	}
	return fmt.Sprintf(tmpl, shopID), nil
}

// withBackoff retries transient downstream failures a bounded number of
// times with exponential backoff.
func withBackoff(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, fn)
}
