// Package scoring combines evaluator signals into a single verdict.
package scoring

import (
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

// EngineVersion is stamped into verdict metadata.
const EngineVersion = "1.0.0"

// Aggregator is the deterministic scoring stage: the same signals always
// yield the same score and decision.
type Aggregator struct {
	cfg domain.VerdictConfig
}

// NewAggregator validates the verdict configuration and returns an
// aggregator. Invalid thresholds or an unknown policy are fatal.
func NewAggregator(cfg domain.VerdictConfig) (*Aggregator, error) {
	if cfg.Policy == "" {
		cfg.Policy = domain.AggregateWeightedMean
	}
	switch cfg.Policy {
	case domain.AggregateWeightedMean, domain.AggregateMax:
	default:
		return nil, &domain.ConfigurationError{Field: "verdict.policy", Reason: "unknown aggregation policy " + string(cfg.Policy)}
	}
	if cfg.ReviewThreshold <= 0 || cfg.ReviewThreshold > 1 {
		return nil, &domain.ConfigurationError{Field: "verdict.reviewThreshold", Reason: "must be in (0,1]"}
	}
	if cfg.BlockThreshold <= 0 || cfg.BlockThreshold > 1 {
		return nil, &domain.ConfigurationError{Field: "verdict.blockThreshold", Reason: "must be in (0,1]"}
	}
	if cfg.ReviewThreshold > cfg.BlockThreshold {
		return nil, &domain.ConfigurationError{Field: "verdict.reviewThreshold", Reason: "must not exceed blockThreshold"}
	}
	return &Aggregator{cfg: cfg}, nil
}

// Decide aggregates the signals for one transaction into its verdict.
func (a *Aggregator) Decide(tx *domain.Transaction, signals []domain.Signal) *domain.Verdict {
	score := a.aggregate(signals)

	degraded := 0
	for _, s := range signals {
		if s.Degraded {
			degraded++
		}
	}

	return &domain.Verdict{
		ID:        uuid.New().String(),
		TxID:      tx.ID,
		UserID:    tx.UserID,
		Score:     score,
		Decision:  a.decide(score),
		Signals:   signals,
		DecidedAt: time.Now().UTC(),
		Metadata: domain.VerdictMetadata{
			SignalsEvaluated: len(signals),
			SignalsDegraded:  degraded,
			EngineVersion:    EngineVersion,
		},
	}
}

func (a *Aggregator) aggregate(signals []domain.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}

	switch a.cfg.Policy {
	case domain.AggregateMax:
		max := 0.0
		for _, s := range signals {
			if s.Weight > 0 && s.Score > max {
				max = s.Score
			}
		}
		return max
	default:
		var weighted, total float64
		for _, s := range signals {
			weighted += s.Score * s.Weight
			total += s.Weight
		}
		if total == 0 {
			return 0
		}
		return weighted / total
	}
}

// decide maps the score to a decision. Thresholds are inclusive: a score
// exactly at a boundary takes the higher-severity decision.
func (a *Aggregator) decide(score float64) domain.Decision {
	switch {
	case score >= a.cfg.BlockThreshold:
		return domain.DecisionBlocked
	case score >= a.cfg.ReviewThreshold:
		return domain.DecisionReview
	default:
		return domain.DecisionApproved
	}
}
