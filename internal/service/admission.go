package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatbroker.app/broker/common/id"
	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/core/config"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/queue"
	"chatbroker.app/broker/internal/store"
)

type AdmissionOutcome string

const (
	AdmissionAccepted  AdmissionOutcome = "accepted"
	AdmissionDuplicate AdmissionOutcome = "duplicate"
)

type AdmitParams struct {
	AccountID          string
	ShopID             string
	ShopName           string
	Platform           string
	TaskType           model.TaskType
	ExternalTaskID     string
	SendContent        string
	MaxInactiveMinutes int
}

type AdmissionResult struct {
	Outcome            AdmissionOutcome
	SessionID          string
	TaskType           model.TaskType
	Priority           int
	CreatedAt          time.Time
	TaskID             *int64
	PreemptedSessionID *string
}

// AdmissionController decides whether a new session may be opened for an
// (account, shop) pair. At most one non-terminal session may hold the pair;
// humans preempt bots, bots never preempt anyone.
type AdmissionController interface {
	Admit(ctx context.Context, params AdmitParams) (*AdmissionResult, error)
}

type admissionController struct {
	stores   StoreProvider
	txRunner TxRunner
	queue    queue.Queue
	cfg      config.SessionConfig
	logger   *slog.Logger
}

func NewAdmissionController(stores StoreProvider, txRunner TxRunner, q queue.Queue, cfg config.SessionConfig, log *slog.Logger) AdmissionController {
	if log == nil {
		log = slog.Default()
	}
	return &admissionController{
		stores:   stores,
		txRunner: txRunner,
		queue:    q,
		cfg:      cfg,
		logger:   log,
	}
}

func (c *admissionController) Admit(ctx context.Context, params AdmitParams) (*AdmissionResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AccountID: logger.Ptr(params.AccountID),
		ShopID:    logger.Ptr(params.ShopID),
		Component: "broker.service.admission",
	})

	if err := c.validate(params); err != nil {
		return nil, err
	}

	if params.Platform == "" {
		params.Platform = config.PlatformTaotian
	}
	if params.MaxInactiveMinutes <= 0 {
		if params.TaskType.IsBot() {
			params.MaxInactiveMinutes = c.cfg.BotMaxInactiveMinutes
		} else {
			params.MaxInactiveMinutes = c.cfg.HumanMaxInactiveMinutes
		}
	}

	// Idempotent replay: a known external_task_id returns the original
	// session and creates nothing.
	if prior, err := c.stores.Sessions().GetByExternalTaskID(ctx, params.ExternalTaskID); err == nil {
		c.logger.InfoContext(ctx, "duplicate admission replay",
			"session_id", prior.SessionID, "external_task_id", params.ExternalTaskID)
		return &AdmissionResult{
			Outcome:   AdmissionDuplicate,
			SessionID: prior.SessionID,
			TaskType:  prior.TaskType,
			Priority:  prior.Priority,
			CreatedAt: prior.CreatedAt,
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up external task id: %w", err)
	}

	var result *AdmissionResult

	// The partial unique index is the mutual-exclusion primitive. A losing
	// racer gets ErrActiveExists on insert and re-evaluates once against the
	// winner's row.
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		result, err = c.admitOnce(ctx, params)
		if err != nil {
			if errors.Is(err, store.ErrActiveExists) && attempt == 0 {
				continue
			}
			return nil, err
		}
		break
	}

	if result.TaskID != nil {
		// Outside the transaction: the queue is advisory and the reconciler
		// re-pushes anything lost here.
		if _, err := c.queue.Push(ctx, *result.TaskID); err != nil {
			c.logger.WarnContext(ctx, "queue push failed, reconciler will retry",
				"task_id", *result.TaskID, "error", err)
		}
	}

	c.logger.InfoContext(ctx, "session admitted",
		"session_id", result.SessionID,
		"task_type", result.TaskType,
		"priority", result.Priority,
		"preempted", result.PreemptedSessionID != nil)

	return result, nil
}

func (c *admissionController) validate(params AdmitParams) error {
	switch {
	case params.AccountID == "":
		return NewError(CodeValidation, "account_id is required")
	case params.ShopID == "":
		return NewError(CodeValidation, "shop_id is required")
	case params.ExternalTaskID == "":
		return NewError(CodeValidation, "external_task_id is required")
	case !params.TaskType.Valid():
		return NewError(CodeValidation, "unknown task_type %q", params.TaskType)
	case params.TaskType.IsBot() && strings.TrimSpace(params.SendContent) == "":
		return NewError(CodeValidation, "send_content is required for bot tasks")
	}
	return nil
}

func (c *admissionController) admitOnce(ctx context.Context, params AdmitParams) (*AdmissionResult, error) {
	now := time.Now()
	result := &AdmissionResult{
		Outcome:   AdmissionAccepted,
		SessionID: newSessionID(),
		TaskType:  params.TaskType,
		Priority:  params.TaskType.Priority(),
		CreatedAt: now,
	}

	err := c.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		cur, err := sp.Sessions().GetCurrent(ctx, params.AccountID, params.ShopID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("looking up current session: %w", err)
		}

		if cur != nil {
			preempted, err := c.tryPreempt(ctx, sp, cur, params, now)
			if err != nil {
				return err
			}
			result.PreemptedSessionID = &preempted.SessionID
		}

		session := &model.Session{
			SessionID:          result.SessionID,
			AccountID:          params.AccountID,
			ShopID:             params.ShopID,
			ShopName:           params.ShopName,
			Platform:           params.Platform,
			TaskType:           params.TaskType,
			State:              model.SessionPending,
			CreatedBy:          params.TaskType.CreatedBy(),
			Priority:           result.Priority,
			ExternalTaskID:     &params.ExternalTaskID,
			MaxInactiveMinutes: params.MaxInactiveMinutes,
			CreatedAt:          now,
			LastActivityAt:     now,
		}
		if err := sp.Sessions().Create(ctx, session); err != nil {
			return err
		}

		if params.TaskType.IsBot() {
			task := &model.SendTask{
				TaskID:         id.New(),
				SessionID:      session.SessionID,
				ExternalTaskID: params.ExternalTaskID,
				TaskType:       params.TaskType,
				SendContent:    params.SendContent,
				ShopName:       params.ShopName,
				Status:         model.TaskPending,
				CreatedAt:      now,
			}
			if err := sp.Tasks().Create(ctx, task); err != nil {
				return err
			}
			result.TaskID = &task.TaskID
		}

		return sp.Operations().Append(ctx, &model.SessionOperation{
			ID:        id.New(),
			SessionID: session.SessionID,
			OpType:    model.OpSessionCreated,
			Payload:   admissionPayload(params),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// tryPreempt applies the priority rules against the pair's current session.
// It either pauses the current session and returns it, or fails with a
// ConflictError.
func (c *admissionController) tryPreempt(ctx context.Context, sp StoreProvider, cur *model.Session, params AdmitParams, now time.Time) (*model.Session, error) {
	conflict := &ConflictError{SessionID: cur.SessionID, TaskType: cur.TaskType}

	// Bots never preempt: they defer to whatever holds the pair, including
	// an earlier bot.
	if params.TaskType.IsBot() {
		return nil, conflict
	}

	newPriority := params.TaskType.Priority()
	switch {
	case params.TaskType == model.TaskTypeManualUrgent:
		if cur.Priority <= newPriority {
			return nil, conflict
		}
	default:
		// Non-urgent human types displace bots only.
		if !cur.TaskType.IsBot() || newPriority >= cur.Priority {
			return nil, conflict
		}
	}

	reason := "preempted_by:" + string(params.TaskType)
	paused, err := sp.Sessions().Pause(ctx, cur.SessionID, reason, now)
	if err != nil {
		return nil, fmt.Errorf("pausing session %s: %w", cur.SessionID, err)
	}
	if !paused {
		// Slot holder already in human hands (transferred); nothing a
		// preemption can displace.
		return nil, conflict
	}

	if err := sp.Operations().Append(ctx, &model.SessionOperation{
		ID:        id.New(),
		SessionID: cur.SessionID,
		OpType:    model.OpSessionPreempted,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	return cur, nil
}

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func admissionPayload(params AdmitParams) []byte {
	payload, _ := json.Marshal(map[string]any{
		"task_type":        params.TaskType,
		"external_task_id": params.ExternalTaskID,
		"platform":         params.Platform,
	})
	return payload
}
