package signals

import (
	"github.com/opensource-finance/shrike/internal/domain"
)

// BuildRegistry registers every enabled evaluator from configuration. The
// merchant and model evaluators are skipped when their collaborator is nil
// even if enabled, since they cannot produce anything but degraded signals.
func BuildRegistry(cfg domain.SignalsConfig, lookup RiskLookup, scorer ModelScorer, maxWorkers int) (*Registry, error) {
	reg := NewRegistry(maxWorkers)

	if cfg.Velocity.Enabled {
		reg.Register(NewVelocity(cfg.Velocity), cfg.Velocity.Weight)
	}
	if cfg.Deviation.Enabled {
		reg.Register(NewDeviation(cfg.Deviation), cfg.Deviation.Weight)
	}
	if cfg.Geo.Enabled {
		reg.Register(NewGeo(cfg.Geo), cfg.Geo.Weight)
	}
	if cfg.Novelty.Enabled {
		reg.Register(NewNovelty(cfg.Novelty), cfg.Novelty.Weight)
	}
	if cfg.Merchant.Enabled && lookup != nil {
		reg.Register(NewMerchant(cfg.Merchant, lookup), cfg.Merchant.Weight)
	}
	if cfg.Model.Enabled && scorer != nil {
		reg.Register(NewModel(cfg.Model, scorer), cfg.Model.Weight)
	}

	if len(cfg.Expressions) > 0 {
		env, err := NewExpressionEnv()
		if err != nil {
			return nil, err
		}
		for _, ec := range cfg.Expressions {
			if !ec.Enabled {
				continue
			}
			expr, err := NewExpression(env, ec)
			if err != nil {
				return nil, err
			}
			reg.Register(expr, ec.Weight)
		}
	}

	return reg, nil
}
