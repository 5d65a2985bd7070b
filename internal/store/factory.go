package store

import "chatbroker.app/broker/core/db"

// Stores bundles the individual stores over one DBTX, which may be the pool
// or a transaction.
type Stores struct {
	sessions   SessionStore
	tasks      TaskStore
	messages   MessageStore
	transfers  TransferStore
	operations OperationStore
}

func NewStores(dbtx db.DBTX) *Stores {
	return &Stores{
		sessions:   NewSessionStore(dbtx),
		tasks:      NewTaskStore(dbtx),
		messages:   NewMessageStore(dbtx),
		transfers:  NewTransferStore(dbtx),
		operations: NewOperationStore(dbtx),
	}
}

func (s *Stores) Sessions() SessionStore     { return s.sessions }
func (s *Stores) Tasks() TaskStore           { return s.tasks }
func (s *Stores) Messages() MessageStore     { return s.messages }
func (s *Stores) Transfers() TransferStore   { return s.transfers }
func (s *Stores) Operations() OperationStore { return s.operations }
