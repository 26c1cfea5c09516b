package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// ModelScorer is an external anomaly model invoked per transaction.
type ModelScorer func(ctx context.Context, tx *domain.Transaction, baseline *domain.UserProfile) (float64, error)

// Model wraps an external scoring model as an evaluator. Model failures and
// timeouts degrade to the neutral signal so the rule-based checks still
// decide the transaction.
type Model struct {
	cfg   domain.ModelConfig
	score ModelScorer
}

func NewModel(cfg domain.ModelConfig, score ModelScorer) *Model {
	return &Model{cfg: cfg, score: score}
}

func (m *Model) Name() string { return "model" }

func (m *Model) Evaluate(ctx context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	score, err := m.score(ctx, tx, baseline)
	if err != nil {
		return degraded(m.Name(), fmt.Sprintf("model scoring failed: %v", err))
	}

	return domain.Signal{
		Evaluator: m.Name(),
		Score:     score,
		Rationale: fmt.Sprintf("model anomaly score %.2f", score),
	}
}
