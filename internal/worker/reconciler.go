package worker

import (
	"context"
	"log/slog"

	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/internal/service"
)

// Reconciler repairs the advisory queue from the authoritative store: send
// tasks still pending past the grace window are pushed again. Idempotent
// pushes make it safe against tasks that are merely slow.
type Reconciler struct {
	dispatcher service.TaskDispatcher
	logger     *slog.Logger
}

func NewReconciler(dispatcher service.TaskDispatcher, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{dispatcher: dispatcher, logger: log}
}

func (r *Reconciler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "broker.worker.reconciler"})

	pushed, err := r.dispatcher.Reconcile(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "reconcile pass failed", "error", err)
		return
	}
	if pushed > 0 {
		r.logger.InfoContext(ctx, "requeued stale tasks", "count", pushed)
	}
}
