package signals

import (
	"context"
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Velocity flags bursts of high-value transactions within a trailing window.
type Velocity struct {
	cfg domain.VelocityConfig
}

func NewVelocity(cfg domain.VelocityConfig) *Velocity {
	return &Velocity{cfg: cfg}
}

func (v *Velocity) Name() string { return "velocity" }

func (v *Velocity) Evaluate(_ context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	if baseline.Empty() {
		return neutral(v.Name(), "insufficient history")
	}

	windowStart := tx.Timestamp.Add(-v.cfg.Window)

	// The current transaction counts toward its own burst.
	count := 0
	if tx.Amount > v.cfg.HighValueThreshold {
		count = 1
	}
	for _, h := range baseline.History {
		if h.Amount <= v.cfg.HighValueThreshold {
			continue
		}
		if h.Timestamp.Before(windowStart) || h.Timestamp.After(tx.Timestamp) {
			continue
		}
		count++
	}

	var score float64
	switch {
	case count > 2:
		score = 1.0
	case count == 2:
		score = 0.6
	case count == 1:
		score = 0.3
	}

	return domain.Signal{
		Evaluator: v.Name(),
		Score:     score,
		Rationale: fmt.Sprintf("%d high-value transactions within %s", count, v.cfg.Window),
	}
}
