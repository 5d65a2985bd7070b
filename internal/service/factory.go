package service

import (
	"log/slog"
	"time"

	"chatbroker.app/broker/core/config"
	"chatbroker.app/broker/internal/queue"
)

// Services wires the broker's components over shared stores, queue, and
// transaction runner.
type Services struct {
	admission  AdmissionController
	sessions   SessionManager
	dispatcher TaskDispatcher
	ingestor   MessageIngestor
}

type ServicesConfig struct {
	Stores     StoreProvider
	TxRunner   TxRunner
	Queue      queue.Queue
	Classifier InterventionClassifier
	Session    config.SessionConfig
	Ingest     config.IngestConfig
	SendURL    config.SendURLConfig
	Logger     *slog.Logger
}

func NewServices(cfg ServicesConfig) *Services {
	sessions := NewSessionManager(cfg.Stores, cfg.TxRunner, cfg.Logger)
	grace := time.Duration(cfg.Session.PendingGraceSeconds) * time.Second

	return &Services{
		admission:  NewAdmissionController(cfg.Stores, cfg.TxRunner, cfg.Queue, cfg.Session, cfg.Logger),
		sessions:   sessions,
		dispatcher: NewTaskDispatcher(cfg.Stores, cfg.Queue, sessions, cfg.SendURL, grace, cfg.Logger),
		ingestor:   NewMessageIngestor(cfg.TxRunner, cfg.Classifier, cfg.Session, cfg.Ingest, cfg.Logger),
	}
}

func (s *Services) Admission() AdmissionController { return s.admission }
func (s *Services) Sessions() SessionManager       { return s.sessions }
func (s *Services) Dispatcher() TaskDispatcher     { return s.dispatcher }
func (s *Services) Ingestor() MessageIngestor      { return s.ingestor }
