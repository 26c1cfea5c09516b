package merchants

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
)

// stubRepo implements only the merchant registry slice of domain.Repository.
type stubRepo struct {
	domain.Repository

	mu      sync.Mutex
	risks   map[string]float64
	lookups int
}

func (r *stubRepo) GetMerchantRisk(_ context.Context, merchantID string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	score, ok := r.risks[merchantID]
	return score, ok, nil
}

func (r *stubRepo) UpsertMerchantRisk(_ context.Context, merchantID string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.risks == nil {
		r.risks = make(map[string]float64)
	}
	r.risks[merchantID] = score
	return nil
}

func (r *stubRepo) ListMerchantRisks(context.Context) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.risks))
	for k, v := range r.risks {
		out[k] = v
	}
	return out, nil
}

func (r *stubRepo) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func newService(repo *stubRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, cache.NewLRUCache(100), time.Minute, logger)
}

func TestRiskCachesRepositoryLookups(t *testing.T) {
	repo := &stubRepo{risks: map[string]float64{"merchant-risky": 0.9}}
	svc := newService(repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		score, known, err := svc.Risk(ctx, "merchant-risky")
		if err != nil {
			t.Fatalf("Risk failed: %v", err)
		}
		if !known || score != 0.9 {
			t.Fatalf("expected known 0.9, got known=%v score=%.2f", known, score)
		}
	}

	if repo.lookupCount() != 1 {
		t.Errorf("expected 1 repository lookup, got %d", repo.lookupCount())
	}
}

func TestUnknownMerchantCachedToo(t *testing.T) {
	repo := &stubRepo{}
	svc := newService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, known, err := svc.Risk(ctx, "merchant-unlisted")
		if err != nil {
			t.Fatalf("Risk failed: %v", err)
		}
		if known {
			t.Fatal("expected unknown merchant")
		}
	}

	if repo.lookupCount() != 1 {
		t.Errorf("expected negative result to be cached, got %d lookups", repo.lookupCount())
	}
}

func TestEmptyMerchantIDShortCircuits(t *testing.T) {
	repo := &stubRepo{}
	svc := newService(repo)

	_, known, err := svc.Risk(context.Background(), "")
	if err != nil || known {
		t.Errorf("expected neutral result, got known=%v err=%v", known, err)
	}
	if repo.lookupCount() != 0 {
		t.Error("empty merchant id must not hit the repository")
	}
}

func TestSetRiskRefreshesCache(t *testing.T) {
	repo := &stubRepo{}
	svc := newService(repo)
	ctx := context.Background()

	if err := svc.SetRisk(ctx, "merchant-1", 0.5); err != nil {
		t.Fatalf("SetRisk failed: %v", err)
	}

	score, known, err := svc.Risk(ctx, "merchant-1")
	if err != nil || !known || score != 0.5 {
		t.Errorf("expected 0.5 after update, got known=%v score=%.2f err=%v", known, score, err)
	}

	if err := svc.SetRisk(ctx, "merchant-1", 0.2); err != nil {
		t.Fatalf("second SetRisk failed: %v", err)
	}
	score, _, _ = svc.Risk(ctx, "merchant-1")
	if score != 0.2 {
		t.Errorf("expected stale cache to be replaced, got %.2f", score)
	}
}
