package store

import (
	"context"
	"fmt"

	"chatbroker.app/broker/core/db"
	"chatbroker.app/broker/internal/model"
)

type transferStore struct {
	db db.DBTX
}

func NewTransferStore(dbtx db.DBTX) TransferStore {
	return &transferStore{db: dbtx}
}

func (s *transferStore) Create(ctx context.Context, t *model.TransferRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_transfers (id, session_id, from_type, to_type, reason, urgency, status, transferred_at, accepted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.SessionID, t.FromType, t.ToType, t.Reason, t.Urgency, t.Status, t.TransferredAt, t.AcceptedAt)
	if err != nil {
		return fmt.Errorf("inserting transfer record: %w", err)
	}
	return nil
}

func (s *transferStore) ListBySession(ctx context.Context, sessionID string) ([]model.TransferRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, from_type, to_type, reason, urgency, status, transferred_at, accepted_at
		 FROM session_transfers
		 WHERE session_id = $1
		 ORDER BY transferred_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing transfer records: %w", err)
	}
	defer rows.Close()

	var transfers []model.TransferRecord
	for rows.Next() {
		var t model.TransferRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.FromType, &t.ToType, &t.Reason, &t.Urgency, &t.Status, &t.TransferredAt, &t.AcceptedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer record: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
