package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chatbroker.app/broker/core/db"
	"chatbroker.app/broker/internal/model"
)

type messageStore struct {
	db db.DBTX
}

func NewMessageStore(dbtx db.DBTX) MessageStore {
	return &messageStore{db: dbtx}
}

func (s *messageStore) ExistingIDs(ctx context.Context, messageIDs []string) (map[string]struct{}, error) {
	if len(messageIDs) == 0 {
		return map[string]struct{}{}, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT message_id FROM messages WHERE message_id = ANY($1)`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("querying existing message ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{}, len(messageIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning message id: %w", err)
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

func (s *messageStore) CreateBatch(ctx context.Context, msgs []model.Message) (int, error) {
	inserted := 0
	for _, m := range msgs {
		// ON CONFLICT keeps concurrent batches for the same pair correct:
		// message_id uniqueness is the sole cross-batch dedup barrier.
		tag, err := s.db.Exec(ctx,
			`INSERT INTO messages (message_id, session_id, content, sender_nick, from_source, sent_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (message_id) DO NOTHING`,
			m.MessageID, m.SessionID, m.Content, m.SenderNick, m.FromSource, m.SentAt, m.CreatedAt)
		if err != nil {
			return inserted, fmt.Errorf("inserting message %s: %w", m.MessageID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *messageStore) LatestForShop(ctx context.Context, shopName string) (*model.Message, error) {
	row := s.db.QueryRow(ctx,
		`SELECT m.message_id, m.session_id, m.content, m.sender_nick, m.from_source, m.sent_at, m.created_at
		 FROM messages m
		 JOIN sessions s ON s.session_id = m.session_id
		 WHERE s.shop_name = $1
		 ORDER BY m.sent_at DESC, m.message_id DESC
		 LIMIT 1`,
		shopName)

	var m model.Message
	err := row.Scan(&m.MessageID, &m.SessionID, &m.Content, &m.SenderNick, &m.FromSource, &m.SentAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning latest message: %w", err)
	}
	return &m, nil
}
