package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/behavior"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/normalize"
	"github.com/opensource-finance/shrike/internal/scoring"
	"github.com/opensource-finance/shrike/internal/signals"
)

type captureEmitter struct {
	mu       sync.Mutex
	verdicts []*domain.Verdict
}

func (c *captureEmitter) Emit(v *domain.Verdict, _ *domain.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts = append(c.verdicts, v)
}

func (c *captureEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.verdicts)
}

func newTestPipeline(t *testing.T) (*Pipeline, *captureEmitter) {
	t.Helper()
	cfg := domain.DefaultConfig()

	// No merchant lookup and no model: the registry carries velocity,
	// deviation, geo, and novelty.
	registry, err := signals.BuildRegistry(cfg.Signals, nil, nil, 8)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	aggregator, err := scoring.NewAggregator(cfg.Verdict)
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}

	emitter := &captureEmitter{}
	p := New(
		normalize.New(domain.IngestConfig{ClockSkewTolerance: 10 * time.Minute}),
		behavior.NewStore(domain.BehaviorConfig{WindowCapacity: 200}),
		registry,
		aggregator,
		emitter,
		cfg.Pipeline.Deadline,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return p, emitter
}

func raw(id, userID string, amount float64, ts time.Time) *domain.RawTransaction {
	return &domain.RawTransaction{
		ID:            id,
		UserID:        userID,
		Amount:        &amount,
		Currency:      "USD",
		Timestamp:     ts.Format(time.RFC3339),
		PaymentMethod: "card",
	}
}

func withGeo(r *domain.RawTransaction, lat, lon float64) *domain.RawTransaction {
	r.Lat = &lat
	r.Lon = &lon
	return r
}

func withIdentity(r *domain.RawTransaction, device, ip string) *domain.RawTransaction {
	r.DeviceFingerprint = device
	r.IP = ip
	return r
}

func TestFirstTransactionApproved(t *testing.T) {
	p, emitter := newTestPipeline(t)

	v, err := p.Score(context.Background(), raw("tx-1", "user-new", 200, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if v.Decision != domain.DecisionApproved {
		t.Errorf("expected approved for user with no history, got %s (score %.2f)", v.Decision, v.Score)
	}
	if v.Score != 0 {
		t.Errorf("expected every signal fail-closed to 0, got score %.2f", v.Score)
	}
	if emitter.count() != 1 {
		t.Errorf("expected 1 emitted verdict, got %d", emitter.count())
	}
}

func TestAnomalousTransactionBlocked(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Stable history: small constant amounts, one city, one device.
	nyLat, nyLon := 40.71, -74.0
	for i := 0; i < 6; i++ {
		r := raw(fmt.Sprintf("tx-hist-%d", i), "user-stable", 50, now.Add(time.Duration(i-10)*time.Minute))
		withGeo(r, nyLat, nyLon)
		withIdentity(r, "dev-usual", "203.0.113.10")
		if _, err := p.Score(ctx, r); err != nil {
			t.Fatalf("history tx %d failed: %v", i, err)
		}
	}

	// A large amount from another continent on a new device one minute later.
	r := raw("tx-anomaly", "user-stable", 5000, now.Add(-3*time.Minute))
	withGeo(r, 51.51, -0.13)
	withIdentity(r, "dev-stolen", "198.51.100.66")

	v, err := p.Score(ctx, r)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if v.Decision != domain.DecisionBlocked {
		t.Errorf("expected blocked, got %s (score %.2f, signals %+v)", v.Decision, v.Score, v.Signals)
	}
	if len(v.Reasons()) == 0 {
		t.Error("expected contributing rationales on a blocked verdict")
	}
}

func TestHighValueBurstMaxesVelocity(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var last *domain.Verdict
	for i := 0; i < 3; i++ {
		v, err := p.Score(ctx, raw(fmt.Sprintf("tx-burst-%d", i), "user-burst", 1500, now.Add(time.Duration(i-5)*time.Minute)))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		last = v
	}

	var velocity *domain.Signal
	for i := range last.Signals {
		if last.Signals[i].Evaluator == "velocity" {
			velocity = &last.Signals[i]
		}
	}
	if velocity == nil {
		t.Fatal("velocity signal missing")
	}
	if velocity.Score != 1.0 {
		t.Errorf("expected velocity 1.0 on third burst transaction, got %.2f", velocity.Score)
	}
}

func TestMalformedInputRejectedWithoutVerdict(t *testing.T) {
	p, emitter := newTestPipeline(t)

	bad := raw("tx-bad", "", 100, time.Now().UTC())
	_, err := p.Score(context.Background(), bad)

	var malformed *normalize.MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedError, got %v", err)
	}
	if emitter.count() != 0 {
		t.Error("malformed input must not emit a verdict")
	}
}

func TestStuckEvaluatorDegradesWithinDeadline(t *testing.T) {
	cfg := domain.DefaultConfig()
	registry := signals.NewRegistry(4)
	registry.Register(stuck{}, 1)

	aggregator, err := scoring.NewAggregator(cfg.Verdict)
	if err != nil {
		t.Fatal(err)
	}

	emitter := &captureEmitter{}
	p := New(
		normalize.New(domain.IngestConfig{ClockSkewTolerance: time.Minute}),
		behavior.NewStore(domain.BehaviorConfig{WindowCapacity: 10}),
		registry,
		aggregator,
		emitter,
		50*time.Millisecond,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	start := time.Now()
	v, err := p.Score(context.Background(), raw("tx-1", "user-1", 100, time.Now().UTC()))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("scoring took %s, deadline not enforced", elapsed)
	}
	if v.Metadata.SignalsDegraded != 1 {
		t.Errorf("expected 1 degraded signal, got %d", v.Metadata.SignalsDegraded)
	}
	if v.Decision != domain.DecisionApproved {
		t.Errorf("degraded neutral signal must not escalate, got %s", v.Decision)
	}
}

type stuck struct{}

func (stuck) Name() string { return "stuck" }

func (stuck) Evaluate(ctx context.Context, _ *domain.Transaction, _ *domain.UserProfile) domain.Signal {
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	return domain.Signal{Evaluator: "stuck", Score: 1.0}
}

func TestConcurrentSameUserEachCounted(t *testing.T) {
	p, emitter := newTestPipeline(t)
	now := time.Now().UTC()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Score(context.Background(), raw(fmt.Sprintf("tx-%d", i), "user-conc", 100, now))
			if err != nil {
				t.Errorf("Score failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if emitter.count() != n {
		t.Errorf("expected %d verdicts, got %d", n, emitter.count())
	}
}
