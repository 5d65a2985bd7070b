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

const sessionColumns = `session_id, account_id, shop_id, shop_name, platform, task_type, state,
	created_by, priority, external_task_id, message_count, max_inactive_minutes,
	created_at, last_activity_at, transferred_at, transfer_reason`

type sessionStore struct {
	db db.DBTX
}

func NewSessionStore(dbtx db.DBTX) SessionStore {
	return &sessionStore{db: dbtx}
}

func (s *sessionStore) GetByID(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (s *sessionStore) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*model.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE external_task_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, externalTaskID)
	return scanSession(row)
}

func (s *sessionStore) GetCurrent(ctx context.Context, accountID, shopID string) (*model.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id = $1 AND shop_id = $2
		   AND state IN ('pending', 'active', 'transferred')`,
		accountID, shopID)
	return scanSession(row)
}

func (s *sessionStore) GetPausedByPair(ctx context.Context, accountID, shopID string) (*model.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id = $1 AND shop_id = $2 AND state = 'paused'
		 ORDER BY last_activity_at DESC
		 LIMIT 1`,
		accountID, shopID)
	return scanSession(row)
}

func (s *sessionStore) GetCurrentByShopName(ctx context.Context, shopName string) (*model.Session, error) {
	// The partial unique index guarantees at most one row per pair; several
	// accounts could hold the same shop in theory, so take the freshest.
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE shop_name = $1
		   AND state IN ('pending', 'active', 'transferred')
		 ORDER BY last_activity_at DESC
		 LIMIT 1`,
		shopName)
	return scanSession(row)
}

func (s *sessionStore) Create(ctx context.Context, m *model.Session) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		m.SessionID, m.AccountID, m.ShopID, m.ShopName, m.Platform, m.TaskType, m.State,
		m.CreatedBy, m.Priority, m.ExternalTaskID, m.MessageCount, m.MaxInactiveMinutes,
		m.CreatedAt, m.LastActivityAt, m.TransferredAt, m.TransferReason)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_sessions_single_active" {
			return ErrActiveExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *sessionStore) SetState(ctx context.Context, sessionID string, from []model.SessionState, to model.SessionState, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions
		 SET state = $1, last_activity_at = GREATEST(last_activity_at, $2)
		 WHERE session_id = $3 AND state = ANY($4)`,
		to, at, sessionID, stateStrings(from))
	if err != nil {
		return false, fmt.Errorf("updating session state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) Pause(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions
		 SET state = 'paused', transfer_reason = $1,
		     last_activity_at = GREATEST(last_activity_at, $2)
		 WHERE session_id = $3 AND state IN ('pending', 'active')`,
		reason, at, sessionID)
	if err != nil {
		return false, fmt.Errorf("pausing session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) MarkTransferred(ctx context.Context, sessionID, reason string, from []model.SessionState, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions
		 SET state = 'transferred', transferred_at = $1, transfer_reason = $2,
		     last_activity_at = GREATEST(last_activity_at, $1)
		 WHERE session_id = $3 AND state = ANY($4)`,
		at, reason, sessionID, stateStrings(from))
	if err != nil {
		return false, fmt.Errorf("transferring session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $1)
		 WHERE session_id = $2`,
		at, sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (s *sessionStore) AddMessageCount(ctx context.Context, sessionID string, n int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE sessions SET message_count = message_count + $1 WHERE session_id = $2`,
		n, sessionID)
	if err != nil {
		return fmt.Errorf("updating message count: %w", err)
	}
	return nil
}

func (s *sessionStore) ReapTimedOut(ctx context.Context, now time.Time) ([]model.Session, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE sessions
		 SET state = 'timeout'
		 WHERE state IN ('pending', 'active', 'paused', 'transferred')
		   AND last_activity_at + make_interval(mins => max_inactive_minutes) < $1
		 RETURNING `+sessionColumns,
		now)
	if err != nil {
		return nil, fmt.Errorf("reaping sessions: %w", err)
	}
	defer rows.Close()

	var reaped []model.Session
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		reaped = append(reaped, *m)
	}
	return reaped, rows.Err()
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var m model.Session
	err := row.Scan(
		&m.SessionID, &m.AccountID, &m.ShopID, &m.ShopName, &m.Platform, &m.TaskType, &m.State,
		&m.CreatedBy, &m.Priority, &m.ExternalTaskID, &m.MessageCount, &m.MaxInactiveMinutes,
		&m.CreatedAt, &m.LastActivityAt, &m.TransferredAt, &m.TransferReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &m, nil
}

func stateStrings(states []model.SessionState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}
