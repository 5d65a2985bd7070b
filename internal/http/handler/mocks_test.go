package handler_test

import (
	"context"
	"time"

	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/service"
)

type mockAdmission struct {
	admitFn func(ctx context.Context, params service.AdmitParams) (*service.AdmissionResult, error)
}

func (m *mockAdmission) Admit(ctx context.Context, params service.AdmitParams) (*service.AdmissionResult, error) {
	return m.admitFn(ctx, params)
}

type mockSessionManager struct {
	completeFn func(ctx context.Context, sessionID string, success bool, errMessage *string) error
	statusFn   func(ctx context.Context, sessionID string) (*service.SessionStatus, error)
}

func (m *mockSessionManager) Get(context.Context, string) (*model.Session, error) { return nil, nil }

func (m *mockSessionManager) Complete(ctx context.Context, sessionID string, success bool, errMessage *string) error {
	if m.completeFn != nil {
		return m.completeFn(ctx, sessionID, success, errMessage)
	}
	return nil
}

func (m *mockSessionManager) Transfer(context.Context, string, string, model.UrgencyLevel) error {
	return nil
}

func (m *mockSessionManager) Release(context.Context, string) error { return nil }

func (m *mockSessionManager) Cancel(context.Context, string, string) error { return nil }

func (m *mockSessionManager) Touch(context.Context, string, time.Time) error { return nil }

func (m *mockSessionManager) Reap(context.Context) ([]model.Session, error) { return nil, nil }

func (m *mockSessionManager) Status(ctx context.Context, sessionID string) (*service.SessionStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, sessionID)
	}
	return nil, service.NewError(service.CodeSessionNotFound, "session %s not found", sessionID)
}

type mockDispatcher struct {
	nextTaskIDFn func(ctx context.Context) (*int64, error)
	sendInfoFn   func(ctx context.Context, taskID int64) (*service.SendInfo, error)
}

func (m *mockDispatcher) NextTaskID(ctx context.Context) (*int64, error) {
	if m.nextTaskIDFn != nil {
		return m.nextTaskIDFn(ctx)
	}
	return nil, nil
}

func (m *mockDispatcher) SendInfo(ctx context.Context, taskID int64) (*service.SendInfo, error) {
	if m.sendInfoFn != nil {
		return m.sendInfoFn(ctx, taskID)
	}
	return nil, service.NewError(service.CodeTaskNotFound, "task %d not found", taskID)
}

func (m *mockDispatcher) Complete(context.Context, string, bool, *string) error { return nil }

func (m *mockDispatcher) RetryFailed(context.Context, int64) error { return nil }

func (m *mockDispatcher) Reconcile(context.Context) (int, error) { return 0, nil }

func (m *mockDispatcher) PendingTasks(context.Context, int32) ([]model.SendTask, error) {
	return nil, nil
}

type mockIngestor struct {
	ingestFn func(ctx context.Context, params service.IngestParams) (*service.IngestResult, error)
}

func (m *mockIngestor) Ingest(ctx context.Context, params service.IngestParams) (*service.IngestResult, error) {
	return m.ingestFn(ctx, params)
}
