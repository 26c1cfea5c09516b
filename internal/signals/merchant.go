package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// RiskLookup resolves a merchant id to a risk score. known is false when the
// registry has no entry for the merchant.
type RiskLookup func(ctx context.Context, merchantID string) (score float64, known bool, err error)

// Merchant scores transactions by the registry risk of their merchant. A
// merchant absent from the registry is neutral, never an error.
type Merchant struct {
	cfg    domain.MerchantConfig
	lookup RiskLookup
}

func NewMerchant(cfg domain.MerchantConfig, lookup RiskLookup) *Merchant {
	return &Merchant{cfg: cfg, lookup: lookup}
}

func (m *Merchant) Name() string { return "merchant_risk" }

func (m *Merchant) Evaluate(ctx context.Context, tx *domain.Transaction, _ *domain.UserProfile) domain.Signal {
	if tx.MerchantID == "" {
		return neutral(m.Name(), "no merchant on transaction")
	}

	timeout := m.cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	score, known, err := m.lookup(ctx, tx.MerchantID)
	if err != nil {
		return degraded(m.Name(), fmt.Sprintf("risk lookup failed: %v", err))
	}
	if !known {
		return neutral(m.Name(), fmt.Sprintf("merchant %s not in registry", tx.MerchantID))
	}

	return domain.Signal{
		Evaluator: m.Name(),
		Score:     score,
		Rationale: fmt.Sprintf("merchant %s registry risk %.2f", tx.MerchantID, score),
	}
}
