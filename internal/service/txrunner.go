package service

import (
	"context"

	"chatbroker.app/broker/core/db"
	"chatbroker.app/broker/internal/store"
)

// StoreProvider exposes the stores needed by a transactional operation.
type StoreProvider interface {
	Sessions() store.SessionStore
	Tasks() store.TaskStore
	Messages() store.MessageStore
	Transfers() store.TransferStore
	Operations() store.OperationStore
}

// TxRunner runs functions within a transaction and provides stores bound to
// that transaction. The admission decision and every multi-row state
// transition go through it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(sp StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(database *db.DB) TxRunner {
	return &dbTxRunner{db: database}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(sp StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(store.NewStores(tx))
	})
}
