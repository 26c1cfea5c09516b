package signals

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/shrike/internal/domain"
)

const epsilon = 1e-9

// Deviation scores how far the transaction amount sits from the user's
// historical mean, as a z-score ramped linearly between cfg.ZLow and cfg.ZHigh.
type Deviation struct {
	cfg domain.DeviationConfig
}

func NewDeviation(cfg domain.DeviationConfig) *Deviation {
	return &Deviation{cfg: cfg}
}

func (d *Deviation) Name() string { return "amount_deviation" }

func (d *Deviation) Evaluate(_ context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	if baseline.Count() < d.cfg.MinHistory {
		return neutral(d.Name(), fmt.Sprintf("insufficient history (%d of %d)", baseline.Count(), d.cfg.MinHistory))
	}

	z := zScore(tx.Amount, baseline.MeanAmount, baseline.StdDevAmount)

	var score float64
	switch {
	case z >= d.cfg.ZHigh:
		score = 1.0
	case z <= d.cfg.ZLow:
		score = 0.0
	default:
		score = (z - d.cfg.ZLow) / (d.cfg.ZHigh - d.cfg.ZLow)
	}

	rationale := fmt.Sprintf("amount %.2f is %.1f std devs from mean %.2f", tx.Amount, z, baseline.MeanAmount)
	if math.IsInf(z, 1) {
		rationale = fmt.Sprintf("amount %.2f deviates from invariant mean %.2f", tx.Amount, baseline.MeanAmount)
	}

	return domain.Signal{
		Evaluator: d.Name(),
		Score:     score,
		Rationale: rationale,
	}
}

// zScore handles the degenerate zero-variance baseline: any departure from
// a perfectly constant history is maximally anomalous.
func zScore(amount, mean, std float64) float64 {
	diff := math.Abs(amount - mean)
	if std < epsilon {
		if diff < epsilon {
			return 0
		}
		return math.Inf(1)
	}
	return diff / std
}
