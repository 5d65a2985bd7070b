package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO of send-task IDs awaiting an RPA worker. Push is
// idempotent per task ID; Pop never blocks. The queue is advisory: the
// store remains the source of truth and the reconciler repairs any loss.
type Queue interface {
	// Push enqueues the task ID. Returns false if it was already queued.
	Push(ctx context.Context, taskID int64) (bool, error)
	// Pop removes and returns the oldest task ID. ok is false on empty.
	Pop(ctx context.Context) (taskID int64, ok bool, err error)
	// Len returns the number of queued task IDs.
	Len(ctx context.Context) (int64, error)
	Close() error
}

// The guard set makes Push idempotent: a task ID enters the list only when
// it is not already a member.
var pushScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
	redis.call('LPUSH', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

type redisQueue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisQueue(client *redis.Client, key string, logger *slog.Logger) Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisQueue{
		client: client,
		key:    key,
		logger: logger,
	}
}

func (q *redisQueue) guardKey() string {
	return q.key + ":queued"
}

func (q *redisQueue) Push(ctx context.Context, taskID int64) (bool, error) {
	added, err := pushScript.Run(ctx, q.client, []string{q.key, q.guardKey()}, taskID).Int()
	if err != nil {
		return false, fmt.Errorf("pushing task %d: %w", taskID, err)
	}
	if added == 0 {
		q.logger.DebugContext(ctx, "task already queued", "task_id", taskID)
		return false, nil
	}

	q.logger.InfoContext(ctx, "task queued", "task_id", taskID, "queue", q.key)
	return true, nil
}

func (q *redisQueue) Pop(ctx context.Context) (int64, bool, error) {
	raw, err := q.client.RPop(ctx, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("popping task: %w", err)
	}

	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing queued task id %q: %w", raw, err)
	}

	// Drop the guard so a later re-queue of the same task is accepted.
	if err := q.client.SRem(ctx, q.guardKey(), raw).Err(); err != nil {
		q.logger.WarnContext(ctx, "failed to clear queue guard", "task_id", taskID, "error", err)
	}

	return taskID, true, nil
}

func (q *redisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
