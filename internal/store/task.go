package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chatbroker.app/broker/core/db"
	"chatbroker.app/broker/internal/model"
)

const taskColumns = `task_id, session_id, external_task_id, task_type, send_content,
	shop_name, status, created_at, sent_at, finished_at`

type taskStore struct {
	db db.DBTX
}

func NewTaskStore(dbtx db.DBTX) TaskStore {
	return &taskStore{db: dbtx}
}

func (s *taskStore) GetByID(ctx context.Context, taskID int64) (*model.SendTask, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM session_tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

func (s *taskStore) GetByExternalID(ctx context.Context, externalTaskID string) (*model.SendTask, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM session_tasks WHERE external_task_id = $1`, externalTaskID)
	return scanTask(row)
}

func (s *taskStore) GetLatestBySession(ctx context.Context, sessionID string) (*model.SendTask, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM session_tasks
		 WHERE session_id = $1
		 ORDER BY created_at DESC, task_id DESC
		 LIMIT 1`, sessionID)
	return scanTask(row)
}

func (s *taskStore) ListOutstanding(ctx context.Context, sessionID string, since time.Time) ([]model.SendTask, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM session_tasks
		 WHERE session_id = $1 AND created_at >= $2
		 ORDER BY created_at`, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("listing outstanding tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *taskStore) ListPending(ctx context.Context, limit int32) ([]model.SendTask, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM session_tasks
		 WHERE status = 'pending'
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *taskStore) ListStalePending(ctx context.Context, olderThan time.Time) ([]model.SendTask, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM session_tasks
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *taskStore) Create(ctx context.Context, t *model.SendTask) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.TaskID, t.SessionID, t.ExternalTaskID, t.TaskType, t.SendContent,
		t.ShopName, t.Status, t.CreatedAt, t.SentAt, t.FinishedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_session_tasks_external" {
			return ErrDuplicateTask
		}
		return fmt.Errorf("inserting send task: %w", err)
	}
	return nil
}

func (s *taskStore) MarkSent(ctx context.Context, taskID int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE session_tasks SET status = 'sent', sent_at = $1
		 WHERE task_id = $2 AND status = 'pending'`,
		at, taskID)
	if err != nil {
		return false, fmt.Errorf("marking task sent: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *taskStore) SetStatus(ctx context.Context, taskID int64, from []model.TaskStatus, to model.TaskStatus, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE session_tasks
		 SET status = $1,
		     finished_at = CASE WHEN $1 IN ('completed', 'failed') THEN $2 ELSE finished_at END
		 WHERE task_id = $3 AND status = ANY($4)`,
		to, at, taskID, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("updating task status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *taskStore) CancelPendingBySession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE session_tasks SET status = 'failed', finished_at = $1
		 WHERE session_id = $2 AND status = 'pending'`,
		at, sessionID)
	if err != nil {
		return fmt.Errorf("cancelling pending tasks: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*model.SendTask, error) {
	var t model.SendTask
	err := row.Scan(
		&t.TaskID, &t.SessionID, &t.ExternalTaskID, &t.TaskType, &t.SendContent,
		&t.ShopName, &t.Status, &t.CreatedAt, &t.SentAt, &t.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning send task: %w", err)
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]model.SendTask, error) {
	defer rows.Close()
	var tasks []model.SendTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func statusStrings(statuses []model.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
