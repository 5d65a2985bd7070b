package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/notify"
	"chatbroker.app/broker/internal/service"
	"chatbroker.app/broker/internal/store"
)

// OutboxDispatcher delivers notification rows appended by the service layer
// inside its transactions. Delivery happens strictly outside those
// transactions; a failed delivery stays in the outbox for the next pass.
type OutboxDispatcher struct {
	stores    service.StoreProvider
	notifier  notify.Notifier
	batchSize int32
	logger    *slog.Logger
}

func NewOutboxDispatcher(stores service.StoreProvider, notifier notify.Notifier, log *slog.Logger) *OutboxDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &OutboxDispatcher{
		stores:    stores,
		notifier:  notifier,
		batchSize: 50,
		logger:    log,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "broker.worker.outbox"})

	ops, err := d.stores.Operations().ListUnnotified(ctx, d.batchSize)
	if err != nil {
		d.logger.ErrorContext(ctx, "listing outbox failed", "error", err)
		return
	}

	for _, op := range ops {
		if err := d.deliver(ctx, op); err != nil {
			d.logger.WarnContext(ctx, "notification delivery failed, will retry",
				"operation_id", op.ID,
				"session_id", op.SessionID,
				"error", err)
			continue
		}
		if err := d.stores.Operations().MarkNotified(ctx, op.ID, time.Now()); err != nil {
			d.logger.ErrorContext(ctx, "marking operation notified failed",
				"operation_id", op.ID, "error", err)
		}
	}
}

func (d *OutboxDispatcher) deliver(ctx context.Context, op model.SessionOperation) error {
	note := notify.Notification{
		SessionID:  op.SessionID,
		OpType:     string(op.OpType),
		Reason:     op.Reason,
		OccurredAt: op.CreatedAt,
	}

	if sess, err := d.stores.Sessions().GetByID(ctx, op.SessionID); err == nil {
		note.ShopName = sess.ShopName
		note.AccountID = sess.AccountID
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.notifier.Notify(ctx, note); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
