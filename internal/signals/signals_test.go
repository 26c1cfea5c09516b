package signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func baseTx(amount float64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-current",
		UserID:    "user-1",
		Amount:    amount,
		Currency:  "USD",
		Timestamp: ts,
	}
}

// profileOf builds a baseline from amounts, one transaction per second
// ending just before ts.
func profileOf(ts time.Time, amounts ...float64) *domain.UserProfile {
	p := &domain.UserProfile{
		UserID:  "user-1",
		Devices: make(map[string]struct{}),
		IPs:     make(map[string]struct{}),
	}
	var sum, sumSq float64
	for i, a := range amounts {
		p.History = append(p.History, domain.Transaction{
			ID:        fmt.Sprintf("tx-%d", i),
			UserID:    "user-1",
			Amount:    a,
			Timestamp: ts.Add(time.Duration(i-len(amounts)) * time.Second),
		})
		sum += a
		sumSq += a * a
	}
	if n := float64(len(amounts)); n > 0 {
		p.MeanAmount = sum / n
		variance := sumSq/n - p.MeanAmount*p.MeanAmount
		if variance < 0 {
			variance = 0
		}
		p.StdDevAmount = math.Sqrt(variance)
		p.LastSeen = p.History[len(p.History)-1].Timestamp
	}
	return p
}

func TestVelocity(t *testing.T) {
	cfg := domain.VelocityConfig{Window: 5 * time.Minute, HighValueThreshold: 1000}
	v := NewVelocity(cfg)
	now := time.Now().UTC()

	t.Run("EmptyBaselineIsNeutral", func(t *testing.T) {
		sig := v.Evaluate(context.Background(), baseTx(5000, now), profileOf(now))
		if sig.Score != 0 {
			t.Errorf("expected fail-closed 0, got %.2f", sig.Score)
		}
	})

	t.Run("ThirdHighValueInWindowIsMaximal", func(t *testing.T) {
		baseline := profileOf(now, 1500, 2000)
		sig := v.Evaluate(context.Background(), baseTx(1200, now), baseline)
		if sig.Score != 1.0 {
			t.Errorf("expected 1.0 for three high-value transactions, got %.2f", sig.Score)
		}
	})

	t.Run("SecondHighValueIsElevated", func(t *testing.T) {
		baseline := profileOf(now, 1500)
		sig := v.Evaluate(context.Background(), baseTx(1200, now), baseline)
		if sig.Score != 0.6 {
			t.Errorf("expected 0.6, got %.2f", sig.Score)
		}
	})

	t.Run("LowValueTransactionsIgnored", func(t *testing.T) {
		baseline := profileOf(now, 50, 80, 120)
		sig := v.Evaluate(context.Background(), baseTx(200, now), baseline)
		if sig.Score != 0 {
			t.Errorf("expected 0 below the high-value threshold, got %.2f", sig.Score)
		}
	})

	t.Run("OutsideWindowIgnored", func(t *testing.T) {
		baseline := profileOf(now, 1500, 2000)
		for i := range baseline.History {
			baseline.History[i].Timestamp = now.Add(-time.Hour)
		}
		sig := v.Evaluate(context.Background(), baseTx(1200, now), baseline)
		if sig.Score != 0.3 {
			t.Errorf("expected 0.3 with only the current transaction in window, got %.2f", sig.Score)
		}
	})
}

func TestDeviation(t *testing.T) {
	cfg := domain.DeviationConfig{ZLow: 2, ZHigh: 4, MinHistory: 5}
	d := NewDeviation(cfg)
	now := time.Now().UTC()

	t.Run("InsufficientHistoryIsNeutral", func(t *testing.T) {
		baseline := profileOf(now, 10, 20)
		sig := d.Evaluate(context.Background(), baseTx(100000, now), baseline)
		if sig.Score != 0 {
			t.Errorf("expected fail-closed 0 with thin history, got %.2f", sig.Score)
		}
	})

	t.Run("ExtremeOutlierIsMaximal", func(t *testing.T) {
		baseline := profileOf(now, 48, 50, 52, 49, 51)
		sig := d.Evaluate(context.Background(), baseTx(5000, now), baseline)
		if sig.Score != 1.0 {
			t.Errorf("expected 1.0, got %.2f", sig.Score)
		}
	})

	t.Run("ZeroVarianceBaseline", func(t *testing.T) {
		baseline := profileOf(now, 50, 50, 50, 50, 50)
		sig := d.Evaluate(context.Background(), baseTx(5000, now), baseline)
		if sig.Score != 1.0 {
			t.Errorf("expected any departure from a constant history to score 1.0, got %.2f", sig.Score)
		}

		sig = d.Evaluate(context.Background(), baseTx(50, now), baseline)
		if sig.Score != 0 {
			t.Errorf("expected the constant amount itself to score 0, got %.2f", sig.Score)
		}
	})

	t.Run("LinearRampMidpoint", func(t *testing.T) {
		baseline := profileOf(now, 40, 60, 40, 60, 40, 60)
		// mean 50, stddev 10; amount 80 gives z=3, midway between 2 and 4.
		sig := d.Evaluate(context.Background(), baseTx(80, now), baseline)
		if math.Abs(sig.Score-0.5) > 1e-9 {
			t.Errorf("expected 0.5 at z=3, got %.4f", sig.Score)
		}
	})

	t.Run("TypicalAmountScoresZero", func(t *testing.T) {
		baseline := profileOf(now, 48, 50, 52, 49, 51)
		sig := d.Evaluate(context.Background(), baseTx(51, now), baseline)
		if sig.Score != 0 {
			t.Errorf("expected 0 near the mean, got %.2f", sig.Score)
		}
	})
}

func TestGeo(t *testing.T) {
	g := NewGeo(domain.GeoConfig{MaxSpeedKmh: 900})
	now := time.Now().UTC()

	located := func(lat, lon float64, ts time.Time) *domain.UserProfile {
		p := profileOf(ts, 100)
		p.History[0].Location = domain.Location{Lat: lat, Lon: lon, HasCoords: true}
		p.History[0].Timestamp = ts
		return p
	}

	t.Run("NoCoordinatesIsNeutral", func(t *testing.T) {
		sig := g.Evaluate(context.Background(), baseTx(100, now), located(40.71, -74.0, now.Add(-time.Minute)))
		if sig.Score != 0 {
			t.Errorf("expected 0 without transaction coordinates, got %.2f", sig.Score)
		}
	})

	t.Run("NoLocatedHistoryIsNeutral", func(t *testing.T) {
		tx := baseTx(100, now)
		tx.Location = domain.Location{Lat: 40.71, Lon: -74.0, HasCoords: true}
		sig := g.Evaluate(context.Background(), tx, profileOf(now, 100))
		if sig.Score != 0 {
			t.Errorf("expected 0 without located history, got %.2f", sig.Score)
		}
	})

	t.Run("ImpossibleTravelIsMaximal", func(t *testing.T) {
		// New York to London in one minute.
		tx := baseTx(100, now)
		tx.Location = domain.Location{Lat: 51.51, Lon: -0.13, HasCoords: true}
		sig := g.Evaluate(context.Background(), tx, located(40.71, -74.0, now.Add(-time.Minute)))
		if sig.Score != 1.0 {
			t.Errorf("expected 1.0 for impossible travel, got %.2f", sig.Score)
		}
	})

	t.Run("PlausibleTravelScoresZero", func(t *testing.T) {
		// Roughly 80 km in two hours.
		tx := baseTx(100, now)
		tx.Location = domain.Location{Lat: 41.3, Lon: -74.0, HasCoords: true}
		sig := g.Evaluate(context.Background(), tx, located(40.71, -74.0, now.Add(-2*time.Hour)))
		if sig.Score != 0 {
			t.Errorf("expected 0 for plausible travel, got %.2f", sig.Score)
		}
	})

	t.Run("SamePlaceZeroElapsed", func(t *testing.T) {
		tx := baseTx(100, now)
		tx.Location = domain.Location{Lat: 40.71, Lon: -74.0, HasCoords: true}
		sig := g.Evaluate(context.Background(), tx, located(40.71, -74.0, now))
		if sig.Score != 0 {
			t.Errorf("expected 0 for no movement, got %.2f", sig.Score)
		}
	})
}

func TestNovelty(t *testing.T) {
	n := NewNovelty(domain.NoveltyConfig{PartialScore: 0.4})
	now := time.Now().UTC()

	knownProfile := func() *domain.UserProfile {
		p := profileOf(now, 100)
		p.Devices["dev-known"] = struct{}{}
		p.IPs["203.0.113.1"] = struct{}{}
		return p
	}

	tx := func(device, ip string) *domain.Transaction {
		t := baseTx(100, now)
		t.DeviceFingerprint = device
		t.IP = ip
		return t
	}

	t.Run("EmptyBaselineIsNeutral", func(t *testing.T) {
		sig := n.Evaluate(context.Background(), tx("dev-x", "198.51.100.9"), profileOf(now))
		if sig.Score != 0 {
			t.Errorf("expected fail-closed 0 for unseen user, got %.2f", sig.Score)
		}
	})

	t.Run("BothNewIsMaximal", func(t *testing.T) {
		sig := n.Evaluate(context.Background(), tx("dev-x", "198.51.100.9"), knownProfile())
		if sig.Score != 1.0 {
			t.Errorf("expected 1.0, got %.2f", sig.Score)
		}
	})

	t.Run("OnlyDeviceNewIsPartial", func(t *testing.T) {
		sig := n.Evaluate(context.Background(), tx("dev-x", "203.0.113.1"), knownProfile())
		if sig.Score != 0.4 {
			t.Errorf("expected 0.4, got %.2f", sig.Score)
		}
	})

	t.Run("BothKnownScoresZero", func(t *testing.T) {
		sig := n.Evaluate(context.Background(), tx("dev-known", "203.0.113.1"), knownProfile())
		if sig.Score != 0 {
			t.Errorf("expected 0, got %.2f", sig.Score)
		}
	})

	t.Run("MissingFieldsCannotAssertNovelty", func(t *testing.T) {
		sig := n.Evaluate(context.Background(), tx("", ""), knownProfile())
		if sig.Score != 0 {
			t.Errorf("expected 0 when device and IP are absent, got %.2f", sig.Score)
		}
	})
}

func TestMerchant(t *testing.T) {
	now := time.Now().UTC()
	cfg := domain.MerchantConfig{LookupTimeout: 50 * time.Millisecond}

	withMerchant := func(id string) *domain.Transaction {
		tx := baseTx(100, now)
		tx.MerchantID = id
		return tx
	}

	t.Run("KnownMerchantReturnsRegistryScore", func(t *testing.T) {
		m := NewMerchant(cfg, func(ctx context.Context, id string) (float64, bool, error) {
			return 0.8, true, nil
		})
		sig := m.Evaluate(context.Background(), withMerchant("merchant-risky"), profileOf(now))
		if sig.Score != 0.8 {
			t.Errorf("expected 0.8, got %.2f", sig.Score)
		}
		if sig.Degraded {
			t.Error("expected healthy signal")
		}
	})

	t.Run("UnknownMerchantIsNeutralNotError", func(t *testing.T) {
		m := NewMerchant(cfg, func(ctx context.Context, id string) (float64, bool, error) {
			return 0, false, nil
		})
		sig := m.Evaluate(context.Background(), withMerchant("merchant-unlisted"), profileOf(now))
		if sig.Score != 0 || sig.Degraded {
			t.Errorf("expected neutral non-degraded signal, got score=%.2f degraded=%v", sig.Score, sig.Degraded)
		}
	})

	t.Run("NoMerchantIsNeutral", func(t *testing.T) {
		m := NewMerchant(cfg, func(ctx context.Context, id string) (float64, bool, error) {
			t.Error("lookup should not be called")
			return 0, false, nil
		})
		sig := m.Evaluate(context.Background(), baseTx(100, now), profileOf(now))
		if sig.Score != 0 {
			t.Errorf("expected 0, got %.2f", sig.Score)
		}
	})

	t.Run("LookupErrorDegrades", func(t *testing.T) {
		m := NewMerchant(cfg, func(ctx context.Context, id string) (float64, bool, error) {
			return 0, false, errors.New("registry unavailable")
		})
		sig := m.Evaluate(context.Background(), withMerchant("merchant-1"), profileOf(now))
		if !sig.Degraded || sig.Score != 0 {
			t.Errorf("expected degraded neutral signal, got score=%.2f degraded=%v", sig.Score, sig.Degraded)
		}
	})

	t.Run("SlowLookupDegrades", func(t *testing.T) {
		m := NewMerchant(cfg, func(ctx context.Context, id string) (float64, bool, error) {
			select {
			case <-time.After(time.Second):
				return 0.9, true, nil
			case <-ctx.Done():
				return 0, false, ctx.Err()
			}
		})
		sig := m.Evaluate(context.Background(), withMerchant("merchant-1"), profileOf(now))
		if !sig.Degraded || sig.Score != 0 {
			t.Errorf("expected degraded neutral signal on timeout, got score=%.2f degraded=%v", sig.Score, sig.Degraded)
		}
	})
}

type stubEvaluator struct {
	name  string
	score float64
	delay time.Duration
}

func (s *stubEvaluator) Name() string { return s.name }

func (s *stubEvaluator) Evaluate(ctx context.Context, _ *domain.Transaction, _ *domain.UserProfile) domain.Signal {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	return domain.Signal{Evaluator: s.name, Score: s.score, Rationale: "stub"}
}

func TestRegistryEvaluateAll(t *testing.T) {
	now := time.Now().UTC()

	t.Run("SignalsInRegistrationOrderWithWeights", func(t *testing.T) {
		reg := NewRegistry(4)
		reg.Register(&stubEvaluator{name: "a", score: 0.2}, 1)
		reg.Register(&stubEvaluator{name: "b", score: 0.9}, 2.5)

		sigs := reg.EvaluateAll(context.Background(), baseTx(100, now), profileOf(now))

		if len(sigs) != 2 {
			t.Fatalf("expected 2 signals, got %d", len(sigs))
		}
		if sigs[0].Evaluator != "a" || sigs[1].Evaluator != "b" {
			t.Errorf("expected registration order, got %s,%s", sigs[0].Evaluator, sigs[1].Evaluator)
		}
		if sigs[1].Weight != 2.5 {
			t.Errorf("expected weight 2.5, got %.2f", sigs[1].Weight)
		}
	})

	t.Run("SlowEvaluatorDegradesOthersSurvive", func(t *testing.T) {
		reg := NewRegistry(4)
		reg.Register(&stubEvaluator{name: "fast", score: 0.7}, 1)
		reg.Register(&stubEvaluator{name: "stuck", score: 0.9, delay: time.Second}, 1)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		sigs := reg.EvaluateAll(ctx, baseTx(100, now), profileOf(now))

		if sigs[0].Score != 0.7 || sigs[0].Degraded {
			t.Errorf("expected fast signal intact, got score=%.2f degraded=%v", sigs[0].Score, sigs[0].Degraded)
		}
		if !sigs[1].Degraded || sigs[1].Score != 0 {
			t.Errorf("expected stuck evaluator degraded to neutral, got score=%.2f degraded=%v", sigs[1].Score, sigs[1].Degraded)
		}
	})

	t.Run("OutOfRangeScoreClamped", func(t *testing.T) {
		reg := NewRegistry(4)
		reg.Register(&stubEvaluator{name: "hot", score: 3.7}, 1)

		sigs := reg.EvaluateAll(context.Background(), baseTx(100, now), profileOf(now))
		if sigs[0].Score != 1.0 {
			t.Errorf("expected clamp to 1.0, got %.2f", sigs[0].Score)
		}
	})
}

func TestExpressionEvaluator(t *testing.T) {
	now := time.Now().UTC()

	env, err := NewExpressionEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	t.Run("BooleanExpression", func(t *testing.T) {
		expr, err := NewExpression(env, domain.ExpressionConfig{
			ID:         "crypto_high",
			Expression: `payment_method == "crypto" && amount > 500.0`,
		})
		if err != nil {
			t.Fatalf("compile: %v", err)
		}

		tx := baseTx(900, now)
		tx.PaymentMethod = domain.PaymentCrypto

		sig := expr.Evaluate(context.Background(), tx, profileOf(now))
		if sig.Score != 1.0 {
			t.Errorf("expected 1.0, got %.2f", sig.Score)
		}

		tx.PaymentMethod = domain.PaymentCard
		sig = expr.Evaluate(context.Background(), tx, profileOf(now))
		if sig.Score != 0 {
			t.Errorf("expected 0, got %.2f", sig.Score)
		}
	})

	t.Run("CompileErrorIsConfigurationError", func(t *testing.T) {
		_, err := NewExpression(env, domain.ExpressionConfig{
			ID:         "broken",
			Expression: `amount >>> nonsense`,
		})

		var cfgErr *domain.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})
}

func TestBuildRegistry(t *testing.T) {
	cfg := domain.DefaultConfig().Signals
	cfg.Expressions = []domain.ExpressionConfig{
		{ID: "night_crypto", Expression: `payment_method == "crypto" && hour < 6`, Weight: 1, Enabled: true},
	}

	reg, err := BuildRegistry(cfg, func(ctx context.Context, id string) (float64, bool, error) {
		return 0, false, nil
	}, nil, 8)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// velocity, deviation, geo, novelty, merchant, expression. Model is
	// disabled by default.
	if reg.Count() != 6 {
		t.Errorf("expected 6 evaluators, got %d (%v)", reg.Count(), reg.Names())
	}
}
