package service

import (
	"context"
	"strings"

	"chatbroker.app/broker/internal/model"
)

// SessionContext is what the classifier knows about the session a batch was
// attributed to.
type SessionContext struct {
	SessionID        string
	AccountID        string
	TaskType         model.TaskType
	OutstandingTasks []model.SendTask
}

// Verdict is the classifier's decision on a batch.
type Verdict struct {
	Transfer bool
	Reason   string
}

// InterventionClassifier decides whether account-side messages in a batch
// came from a human who took over the bot's account. The default is a
// heuristic; semantic implementations can replace it without touching the
// ingestion pipeline.
type InterventionClassifier interface {
	Classify(ctx context.Context, msgs []model.Message, sctx SessionContext) (Verdict, error)
}

type heuristicClassifier struct{}

// NewHeuristicClassifier flags an account-side message as human when its
// nick differs from the session account or its content matches no
// outstanding send task.
func NewHeuristicClassifier() InterventionClassifier {
	return heuristicClassifier{}
}

func (heuristicClassifier) Classify(_ context.Context, msgs []model.Message, sctx SessionContext) (Verdict, error) {
	for _, msg := range msgs {
		if msg.FromSource != model.SourceAccount {
			continue
		}

		if msg.SenderNick != sctx.AccountID {
			return Verdict{Transfer: true, Reason: "human_intervention_detected"}, nil
		}

		if !matchesOutstandingSend(msg.Content, sctx.OutstandingTasks) {
			return Verdict{Transfer: true, Reason: "human_intervention_detected"}, nil
		}
	}
	return Verdict{}, nil
}

func matchesOutstandingSend(content string, tasks []model.SendTask) bool {
	content = strings.TrimSpace(content)
	for _, task := range tasks {
		if strings.TrimSpace(task.SendContent) == content {
			return true
		}
	}
	return false
}
