package worker

import (
	"context"
	"log/slog"

	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/internal/service"
)

// Reaper times out sessions whose inactivity window has elapsed. Each pass
// is idempotent, so overlapping runs across replicas are harmless.
type Reaper struct {
	sessions service.SessionManager
	logger   *slog.Logger
}

func NewReaper(sessions service.SessionManager, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{sessions: sessions, logger: log}
}

func (r *Reaper) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "broker.worker.reaper"})

	reaped, err := r.sessions.Reap(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "reap pass failed", "error", err)
		return
	}

	for _, sess := range reaped {
		r.logger.InfoContext(ctx, "session timed out",
			"session_id", sess.SessionID,
			"task_type", sess.TaskType,
			"last_activity_at", sess.LastActivityAt)
	}
}
