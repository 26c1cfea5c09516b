package signals

import (
	"context"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Novelty flags transactions from a device and IP the user has never used.
type Novelty struct {
	cfg domain.NoveltyConfig
}

func NewNovelty(cfg domain.NoveltyConfig) *Novelty {
	return &Novelty{cfg: cfg}
}

func (n *Novelty) Name() string { return "device_ip_novelty" }

func (n *Novelty) Evaluate(_ context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	if baseline.Empty() {
		return neutral(n.Name(), "insufficient history")
	}

	// A missing field cannot assert novelty, so it counts as known.
	deviceKnown := tx.DeviceFingerprint == "" || baseline.SeenDevice(tx.DeviceFingerprint)
	ipKnown := tx.IP == "" || baseline.SeenIP(tx.IP)

	switch {
	case !deviceKnown && !ipKnown:
		return domain.Signal{
			Evaluator: n.Name(),
			Score:     1.0,
			Rationale: "both device and IP are new for this user",
		}
	case !deviceKnown:
		return domain.Signal{
			Evaluator: n.Name(),
			Score:     n.cfg.PartialScore,
			Rationale: "device is new for this user",
		}
	case !ipKnown:
		return domain.Signal{
			Evaluator: n.Name(),
			Score:     n.cfg.PartialScore,
			Rationale: "IP is new for this user",
		}
	default:
		return neutral(n.Name(), "device and IP previously seen")
	}
}
