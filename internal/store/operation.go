package store

import (
	"context"
	"fmt"
	"time"

	"chatbroker.app/broker/core/db"
	"chatbroker.app/broker/internal/model"
)

type operationStore struct {
	db db.DBTX
}

func NewOperationStore(dbtx db.DBTX) OperationStore {
	return &operationStore{db: dbtx}
}

func (s *operationStore) Append(ctx context.Context, op *model.SessionOperation) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_operations (id, session_id, op_type, reason, payload, notify, notified_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		op.ID, op.SessionID, op.OpType, op.Reason, op.Payload, op.Notify, op.NotifiedAt, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending session operation: %w", err)
	}
	return nil
}

func (s *operationStore) ListUnnotified(ctx context.Context, limit int32) ([]model.SessionOperation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, op_type, reason, payload, notify, notified_at, created_at
		 FROM session_operations
		 WHERE notify AND notified_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing outbox rows: %w", err)
	}
	defer rows.Close()

	var ops []model.SessionOperation
	for rows.Next() {
		var op model.SessionOperation
		if err := rows.Scan(&op.ID, &op.SessionID, &op.OpType, &op.Reason, &op.Payload, &op.Notify, &op.NotifiedAt, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *operationStore) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE session_operations SET notified_at = $1 WHERE id = $2 AND notified_at IS NULL`,
		at, id)
	if err != nil {
		return fmt.Errorf("marking operation notified: %w", err)
	}
	return nil
}
