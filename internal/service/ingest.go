package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"chatbroker.app/broker/common/id"
	"chatbroker.app/broker/common/logger"
	"chatbroker.app/broker/core/config"
	"chatbroker.app/broker/internal/model"
	"chatbroker.app/broker/internal/store"
)

// accountNickPrefix marks platform nicks belonging to the account (bot)
// side; everything else is the shop's customer service.
const accountNickPrefix = "t-"

// Inbound message timestamps arrive in the platform's local format; RFC3339
// is accepted as a fallback.
var sentAtLayouts = []string{"2006-01-02 15:04:05", time.RFC3339}

// InboundMessage is one raw message as posted by the RPA receiver.
type InboundMessage struct {
	ID      string
	Nick    string
	Time    string
	Content string
}

type IngestParams struct {
	ShopName string
	Platform string
	// AccountID overrides nick-based extraction when the batch carries no
	// account-side message.
	AccountID          string
	MaxInactiveMinutes int
	Messages           []InboundMessage
}

type IngestResult struct {
	Processed         int      `json:"processed_messages"`
	Skipped           int      `json:"skipped_messages"`
	ActiveSessionID   *string  `json:"active_session_id"`
	SessionOperations []string `json:"session_operations"`
	Errors            []string `json:"errors"`
}

// MessageIngestor attributes inbound message batches to sessions, detects
// human takeover of bot sessions, and opens sessions for human activity that
// bypassed the bot pipeline.
type MessageIngestor interface {
	Ingest(ctx context.Context, params IngestParams) (*IngestResult, error)
}

type messageIngestor struct {
	txRunner   TxRunner
	classifier InterventionClassifier
	sessionCfg config.SessionConfig
	ingestCfg  config.IngestConfig
	logger     *slog.Logger
}

func NewMessageIngestor(txRunner TxRunner, classifier InterventionClassifier, sessionCfg config.SessionConfig, ingestCfg config.IngestConfig, log *slog.Logger) MessageIngestor {
	if log == nil {
		log = slog.Default()
	}
	if classifier == nil {
		classifier = NewHeuristicClassifier()
	}
	return &messageIngestor{
		txRunner:   txRunner,
		classifier: classifier,
		sessionCfg: sessionCfg,
		ingestCfg:  ingestCfg,
		logger:     log,
	}
}

func (g *messageIngestor) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.ShopName == "" {
		return nil, NewError(CodeValidation, "shop_name is required")
	}
	if len(params.Messages) == 0 {
		return nil, NewError(CodeValidation, "messages must not be empty")
	}
	if params.Platform == "" {
		params.Platform = config.PlatformTaotian
	}

	accountID := extractAccountID(params.Messages)
	if accountID == "" {
		accountID = params.AccountID
	}
	if accountID == "" {
		return nil, NewError(CodeNoAccount, "no account nick in batch and no account_id override")
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AccountID: logger.Ptr(accountID),
		ShopName:  logger.Ptr(params.ShopName),
		Component: "broker.service.ingest",
	})

	result := &IngestResult{
		SessionOperations: []string{},
		Errors:            []string{},
	}
	msgs := g.normalize(params.Messages, accountID, result)

	err := g.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		return g.ingestInTx(ctx, sp, accountID, params, msgs, result)
	})
	if err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "message batch ingested",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"operations", result.SessionOperations)
	return result, nil
}

// normalize classifies sources, parses timestamps, and sorts the batch into
// storage order: ascending sent_at, ties broken by message_id.
func (g *messageIngestor) normalize(raw []InboundMessage, accountID string, result *IngestResult) []model.Message {
	now := time.Now()
	msgs := make([]model.Message, 0, len(raw))
	for _, in := range raw {
		if in.ID == "" {
			result.Errors = append(result.Errors, "message without id skipped")
			continue
		}

		source := model.SourceShop
		if strings.HasPrefix(in.Nick, accountNickPrefix) {
			source = model.SourceAccount
		}

		sentAt, err := parseSentAt(in.Time)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("message %s: %v", in.ID, err))
			sentAt = now
		}

		msgs = append(msgs, model.Message{
			MessageID:  in.ID,
			Content:    in.Content,
			SenderNick: in.Nick,
			FromSource: source,
			SentAt:     sentAt,
			CreatedAt:  now,
		})
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].MessageID < msgs[j].MessageID
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	return msgs
}

func (g *messageIngestor) ingestInTx(ctx context.Context, sp StoreProvider, accountID string, params IngestParams, msgs []model.Message, result *IngestResult) error {
	now := time.Now()

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	existing, err := sp.Messages().ExistingIDs(ctx, ids)
	if err != nil {
		return err
	}

	fresh := msgs[:0]
	for _, m := range msgs {
		if _, dup := existing[m.MessageID]; dup {
			result.Skipped++
			continue
		}
		fresh = append(fresh, m)
	}

	cur, err := sp.Sessions().GetCurrentByShopName(ctx, params.ShopName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// A fully duplicated batch is a no-op: no state change, no touch.
	if len(fresh) == 0 {
		if cur != nil {
			result.ActiveSessionID = &cur.SessionID
		}
		return nil
	}

	sess, created, err := g.resolveSession(ctx, sp, cur, accountID, params, fresh[0].SentAt, now, result)
	if err != nil {
		return err
	}
	result.ActiveSessionID = &sess.SessionID

	for i := range fresh {
		fresh[i].SessionID = sess.SessionID
	}
	inserted, err := sp.Messages().CreateBatch(ctx, fresh)
	if err != nil {
		return err
	}
	result.Processed = inserted
	result.Skipped += len(fresh) - inserted

	if inserted > 0 {
		if err := sp.Sessions().AddMessageCount(ctx, sess.SessionID, inserted); err != nil {
			return err
		}
		maxSentAt := fresh[len(fresh)-1].SentAt
		if err := sp.Sessions().Touch(ctx, sess.SessionID, maxSentAt); err != nil {
			return err
		}
		if !created {
			result.SessionOperations = append(result.SessionOperations, "updated")
		}
	}

	if !created && sess.TaskType.IsBot() && sess.State == model.SessionActive {
		if err := g.detectIntervention(ctx, sp, sess, fresh, now, result); err != nil {
			return err
		}
	}

	return nil
}

// resolveSession attaches the batch to the pair's current session, or opens
// a manual_customer_service session born transferred when there is none or
// the conversation gap exceeds the threshold. Such a session records human
// activity that never went through the bot pipeline.
func (g *messageIngestor) resolveSession(ctx context.Context, sp StoreProvider, cur *model.Session, accountID string, params IngestParams, firstSentAt, now time.Time, result *IngestResult) (*model.Session, bool, error) {
	gap := time.Duration(g.ingestCfg.SessionGapMinutes) * time.Minute

	if cur != nil {
		latest, err := sp.Messages().LatestForShop(ctx, params.ShopName)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
		if latest == nil || firstSentAt.Sub(latest.SentAt) <= gap {
			return cur, false, nil
		}

		// Conversation went quiet past the gap: the old session is dead in
		// practice even if the reaper has not caught it yet. Time it out so
		// the replacement does not violate the single-active invariant.
		if _, err := sp.Sessions().SetState(ctx, cur.SessionID, model.NonTerminalStates, model.SessionTimeout, now); err != nil {
			return nil, false, err
		}
		if err := sp.Tasks().CancelPendingBySession(ctx, cur.SessionID, now); err != nil {
			return nil, false, err
		}
		if err := sp.Operations().Append(ctx, &model.SessionOperation{
			ID:        id.New(),
			SessionID: cur.SessionID,
			OpType:    model.OpSessionTimedOut,
			Reason:    "session_gap_exceeded",
			CreatedAt: now,
		}); err != nil {
			return nil, false, err
		}
	}

	maxInactive := params.MaxInactiveMinutes
	if maxInactive <= 0 {
		maxInactive = g.sessionCfg.HumanMaxInactiveMinutes
	}

	reason := "untracked_human_activity"
	sess := &model.Session{
		SessionID: newSessionID(),
		AccountID: accountID,
		// Message batches identify the shop by display name only; the pair
		// key falls back to it until a bot task supplies the real ID.
		ShopID:             params.ShopName,
		ShopName:           params.ShopName,
		Platform:           params.Platform,
		TaskType:           model.TaskTypeManualCustomerService,
		State:              model.SessionTransferred,
		CreatedBy:          model.CreatedByHuman,
		Priority:           model.TaskTypeManualCustomerService.Priority(),
		MaxInactiveMinutes: maxInactive,
		CreatedAt:          now,
		LastActivityAt:     now,
		TransferredAt:      &now,
		TransferReason:     &reason,
	}
	if err := sp.Sessions().Create(ctx, sess); err != nil {
		return nil, false, err
	}

	if err := sp.Operations().Append(ctx, &model.SessionOperation{
		ID:        id.New(),
		SessionID: sess.SessionID,
		OpType:    model.OpSessionCreated,
		Reason:    reason,
		Notify:    true,
		CreatedAt: now,
	}); err != nil {
		return nil, false, err
	}

	result.SessionOperations = append(result.SessionOperations, "created")
	return sess, true, nil
}

func (g *messageIngestor) detectIntervention(ctx context.Context, sp StoreProvider, sess *model.Session, msgs []model.Message, now time.Time, result *IngestResult) error {
	window := time.Duration(g.ingestCfg.MatchWindowMinutes) * time.Minute
	outstanding, err := sp.Tasks().ListOutstanding(ctx, sess.SessionID, now.Add(-window))
	if err != nil {
		return err
	}

	// The session's own account is the bot identity; a different t- nick in
	// the batch is a takeover signal, not a new attribution key.
	verdict, err := g.classifier.Classify(ctx, msgs, SessionContext{
		SessionID:        sess.SessionID,
		AccountID:        sess.AccountID,
		TaskType:         sess.TaskType,
		OutstandingTasks: outstanding,
	})
	if err != nil {
		return fmt.Errorf("classifying batch: %w", err)
	}
	if !verdict.Transfer {
		return nil
	}

	if err := transferInTx(ctx, sp, sess.SessionID, verdict.Reason, model.UrgencyHigh, now); err != nil {
		return err
	}
	result.SessionOperations = append(result.SessionOperations, "transferred")

	g.logger.InfoContext(ctx, "human intervention detected",
		"session_id", sess.SessionID, "reason", verdict.Reason)
	return nil
}

func extractAccountID(msgs []InboundMessage) string {
	for _, m := range msgs {
		if strings.HasPrefix(m.Nick, accountNickPrefix) {
			return m.Nick
		}
	}
	return ""
}

func parseSentAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	for _, layout := range sentAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
