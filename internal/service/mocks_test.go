package service_test

import (
	"context"
	"time"

	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/service"
	"chatbroker.app/broker/internal/store"
)

type mockSessionStore struct {
	getByIDFn              func(ctx context.Context, sessionID string) (*model.Session, error)
	getByExternalTaskIDFn  func(ctx context.Context, externalTaskID string) (*model.Session, error)
	getCurrentFn           func(ctx context.Context, accountID, shopID string) (*model.Session, error)
	getPausedByPairFn      func(ctx context.Context, accountID, shopID string) (*model.Session, error)
	getCurrentByShopNameFn func(ctx context.Context, shopName string) (*model.Session, error)
	createFn               func(ctx context.Context, s *model.Session) error
	setStateFn             func(ctx context.Context, sessionID string, from []model.SessionState, to model.SessionState, at time.Time) (bool, error)
	pauseFn                func(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)
	markTransferredFn      func(ctx context.Context, sessionID, reason string, from []model.SessionState, at time.Time) (bool, error)
	touchFn                func(ctx context.Context, sessionID string, at time.Time) error
	addMessageCountFn      func(ctx context.Context, sessionID string, n int) error
	reapTimedOutFn         func(ctx context.Context, now time.Time) ([]model.Session, error)
}

func (m *mockSessionStore) GetByID(ctx context.Context, sessionID string) (*model.Session, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, sessionID)
	}
	return nil, store.ErrNotFound
}

func (m *mockSessionStore) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*model.Session, error) {
	if m.getByExternalTaskIDFn != nil {
		return m.getByExternalTaskIDFn(ctx, externalTaskID)
	}
	return nil, store.ErrNotFound
}

func (m *mockSessionStore) GetCurrent(ctx context.Context, accountID, shopID string) (*model.Session, error) {
	if m.getCurrentFn != nil {
		return m.getCurrentFn(ctx, accountID, shopID)
	}
	return nil, store.ErrNotFound
}

func (m *mockSessionStore) GetPausedByPair(ctx context.Context, accountID, shopID string) (*model.Session, error) {
	if m.getPausedByPairFn != nil {
		return m.getPausedByPairFn(ctx, accountID, shopID)
	}
	return nil, store.ErrNotFound
}

func (m *mockSessionStore) GetCurrentByShopName(ctx context.Context, shopName string) (*model.Session, error) {
	if m.getCurrentByShopNameFn != nil {
		return m.getCurrentByShopNameFn(ctx, shopName)
	}
	return nil, store.ErrNotFound
}

func (m *mockSessionStore) Create(ctx context.Context, s *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	return nil
}

func (m *mockSessionStore) SetState(ctx context.Context, sessionID string, from []model.SessionState, to model.SessionState, at time.Time) (bool, error) {
	if m.setStateFn != nil {
		return m.setStateFn(ctx, sessionID, from, to, at)
	}
	return true, nil
}

func (m *mockSessionStore) Pause(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	if m.pauseFn != nil {
		return m.pauseFn(ctx, sessionID, reason, at)
	}
	return true, nil
}

func (m *mockSessionStore) MarkTransferred(ctx context.Context, sessionID, reason string, from []model.SessionState, at time.Time) (bool, error) {
	if m.markTransferredFn != nil {
		return m.markTransferredFn(ctx, sessionID, reason, from, at)
	}
	return true, nil
}

func (m *mockSessionStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, sessionID, at)
	}
	return nil
}

func (m *mockSessionStore) AddMessageCount(ctx context.Context, sessionID string, n int) error {
	if m.addMessageCountFn != nil {
		return m.addMessageCountFn(ctx, sessionID, n)
	}
	return nil
}

func (m *mockSessionStore) ReapTimedOut(ctx context.Context, now time.Time) ([]model.Session, error) {
	if m.reapTimedOutFn != nil {
		return m.reapTimedOutFn(ctx, now)
	}
	return nil, nil
}

type mockTaskStore struct {
	getByIDFn                func(ctx context.Context, taskID int64) (*model.SendTask, error)
	getByExternalIDFn        func(ctx context.Context, externalTaskID string) (*model.SendTask, error)
	getLatestBySessionFn     func(ctx context.Context, sessionID string) (*model.SendTask, error)
	listOutstandingFn        func(ctx context.Context, sessionID string, since time.Time) ([]model.SendTask, error)
	listPendingFn            func(ctx context.Context, limit int32) ([]model.SendTask, error)
	listStalePendingFn       func(ctx context.Context, olderThan time.Time) ([]model.SendTask, error)
	createFn                 func(ctx context.Context, t *model.SendTask) error
	markSentFn               func(ctx context.Context, taskID int64, at time.Time) (bool, error)
	setStatusFn              func(ctx context.Context, taskID int64, from []model.TaskStatus, to model.TaskStatus, at time.Time) (bool, error)
	cancelPendingBySessionFn func(ctx context.Context, sessionID string, at time.Time) error
}

func (m *mockTaskStore) GetByID(ctx context.Context, taskID int64) (*model.SendTask, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, taskID)
	}
	return nil, store.ErrNotFound
}

func (m *mockTaskStore) GetByExternalID(ctx context.Context, externalTaskID string) (*model.SendTask, error) {
	if m.getByExternalIDFn != nil {
		return m.getByExternalIDFn(ctx, externalTaskID)
	}
	return nil, store.ErrNotFound
}

func (m *mockTaskStore) GetLatestBySession(ctx context.Context, sessionID string) (*model.SendTask, error) {
	if m.getLatestBySessionFn != nil {
		return m.getLatestBySessionFn(ctx, sessionID)
	}
	return nil, store.ErrNotFound
}

func (m *mockTaskStore) ListOutstanding(ctx context.Context, sessionID string, since time.Time) ([]model.SendTask, error) {
	if m.listOutstandingFn != nil {
		return m.listOutstandingFn(ctx, sessionID, since)
	}
	return nil, nil
}

func (m *mockTaskStore) ListPending(ctx context.Context, limit int32) ([]model.SendTask, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockTaskStore) ListStalePending(ctx context.Context, olderThan time.Time) ([]model.SendTask, error) {
	if m.listStalePendingFn != nil {
		return m.listStalePendingFn(ctx, olderThan)
	}
	return nil, nil
}

func (m *mockTaskStore) Create(ctx context.Context, t *model.SendTask) error {
	if m.createFn != nil {
		return m.createFn(ctx, t)
	}
	return nil
}

func (m *mockTaskStore) MarkSent(ctx context.Context, taskID int64, at time.Time) (bool, error) {
	if m.markSentFn != nil {
		return m.markSentFn(ctx, taskID, at)
	}
	return true, nil
}

func (m *mockTaskStore) SetStatus(ctx context.Context, taskID int64, from []model.TaskStatus, to model.TaskStatus, at time.Time) (bool, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, taskID, from, to, at)
	}
	return true, nil
}

func (m *mockTaskStore) CancelPendingBySession(ctx context.Context, sessionID string, at time.Time) error {
	if m.cancelPendingBySessionFn != nil {
		return m.cancelPendingBySessionFn(ctx, sessionID, at)
	}
	return nil
}

type mockMessageStore struct {
	existingIDsFn   func(ctx context.Context, messageIDs []string) (map[string]struct{}, error)
	createBatchFn   func(ctx context.Context, msgs []model.Message) (int, error)
	latestForShopFn func(ctx context.Context, shopName string) (*model.Message, error)
}

func (m *mockMessageStore) ExistingIDs(ctx context.Context, messageIDs []string) (map[string]struct{}, error) {
	if m.existingIDsFn != nil {
		return m.existingIDsFn(ctx, messageIDs)
	}
	return map[string]struct{}{}, nil
}

func (m *mockMessageStore) CreateBatch(ctx context.Context, msgs []model.Message) (int, error) {
	if m.createBatchFn != nil {
		return m.createBatchFn(ctx, msgs)
	}
	return len(msgs), nil
}

func (m *mockMessageStore) LatestForShop(ctx context.Context, shopName string) (*model.Message, error) {
	if m.latestForShopFn != nil {
		return m.latestForShopFn(ctx, shopName)
	}
	return nil, store.ErrNotFound
}

type mockTransferStore struct {
	createFn        func(ctx context.Context, t *model.TransferRecord) error
	listBySessionFn func(ctx context.Context, sessionID string) ([]model.TransferRecord, error)
}

func (m *mockTransferStore) Create(ctx context.Context, t *model.TransferRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, t)
	}
	return nil
}

func (m *mockTransferStore) ListBySession(ctx context.Context, sessionID string) ([]model.TransferRecord, error) {
	if m.listBySessionFn != nil {
		return m.listBySessionFn(ctx, sessionID)
	}
	return nil, nil
}

type mockOperationStore struct {
	appendFn         func(ctx context.Context, op *model.SessionOperation) error
	listUnnotifiedFn func(ctx context.Context, limit int32) ([]model.SessionOperation, error)
	markNotifiedFn   func(ctx context.Context, id int64, at time.Time) error
}

func (m *mockOperationStore) Append(ctx context.Context, op *model.SessionOperation) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, op)
	}
	return nil
}

func (m *mockOperationStore) ListUnnotified(ctx context.Context, limit int32) ([]model.SessionOperation, error) {
	if m.listUnnotifiedFn != nil {
		return m.listUnnotifiedFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockOperationStore) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	if m.markNotifiedFn != nil {
		return m.markNotifiedFn(ctx, id, at)
	}
	return nil
}

// mockStores satisfies service.StoreProvider both directly and as the
// provider handed to transactional functions.
type mockStores struct {
	sessions   *mockSessionStore
	tasks      *mockTaskStore
	messages   *mockMessageStore
	transfers  *mockTransferStore
	operations *mockOperationStore
}

func newMockStores() *mockStores {
	return &mockStores{
		sessions:   &mockSessionStore{},
		tasks:      &mockTaskStore{},
		messages:   &mockMessageStore{},
		transfers:  &mockTransferStore{},
		operations: &mockOperationStore{},
	}
}

func (m *mockStores) Sessions() store.SessionStore     { return m.sessions }
func (m *mockStores) Tasks() store.TaskStore           { return m.tasks }
func (m *mockStores) Messages() store.MessageStore     { return m.messages }
func (m *mockStores) Transfers() store.TransferStore   { return m.transfers }
func (m *mockStores) Operations() store.OperationStore { return m.operations }

type mockTxRunner struct {
	stores *mockStores
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(sp service.StoreProvider) error) error {
	return fn(m.stores)
}

type mockQueue struct {
	pushFn func(ctx context.Context, taskID int64) (bool, error)
	popFn  func(ctx context.Context) (int64, bool, error)
	lenFn  func(ctx context.Context) (int64, error)

	pushed []int64
}

func (m *mockQueue) Push(ctx context.Context, taskID int64) (bool, error) {
	m.pushed = append(m.pushed, taskID)
	if m.pushFn != nil {
		return m.pushFn(ctx, taskID)
	}
	return true, nil
}

func (m *mockQueue) Pop(ctx context.Context) (int64, bool, error) {
	if m.popFn != nil {
		return m.popFn(ctx)
	}
	return 0, false, nil
}

func (m *mockQueue) Len(ctx context.Context) (int64, error) {
	if m.lenFn != nil {
		return m.lenFn(ctx)
	}
	return 0, nil
}

func (m *mockQueue) Close() error { return nil }
