package behavior

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func makeTx(id, userID string, amount float64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		UserID:    userID,
		Amount:    amount,
		Currency:  "USD",
		Timestamp: ts,
	}
}

func TestEmptyBaseline(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 10})

	profile := store.Baseline("unseen-user")

	if !profile.Empty() {
		t.Error("expected empty profile for unseen user")
	}
	if profile.MeanAmount != 0 {
		t.Errorf("expected mean 0, got %.2f", profile.MeanAmount)
	}
	if profile.SeenDevice("anything") {
		t.Error("expected no seen devices")
	}
}

func TestBaselineExcludesCurrentTransaction(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 10})
	now := time.Now().UTC()

	sess := store.Begin("user-1")
	baseline := sess.Baseline()
	sess.Record(makeTx("tx-1", "user-1", 100, now))
	sess.End()

	// The baseline read before Record must not include tx-1.
	if baseline.Count() != 0 {
		t.Errorf("expected pre-update baseline to be empty, got %d entries", baseline.Count())
	}

	// A later cycle sees tx-1 committed.
	sess = store.Begin("user-1")
	baseline = sess.Baseline()
	sess.End()

	if baseline.Count() != 1 {
		t.Fatalf("expected 1 committed entry, got %d", baseline.Count())
	}
	if last, _ := baseline.Last(); last.ID != "tx-1" {
		t.Errorf("expected last tx-1, got %s", last.ID)
	}
}

func TestRollingStatistics(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 10})
	now := time.Now().UTC()

	amounts := []float64{10, 20, 30, 40}
	for i, amount := range amounts {
		sess := store.Begin("user-1")
		sess.Record(makeTx(fmt.Sprintf("tx-%d", i), "user-1", amount, now.Add(time.Duration(i)*time.Second)))
		sess.End()
	}

	profile := store.Baseline("user-1")

	if profile.MeanAmount != 25 {
		t.Errorf("expected mean 25, got %.2f", profile.MeanAmount)
	}
	// Population stddev of {10,20,30,40} is sqrt(125).
	want := math.Sqrt(125)
	if math.Abs(profile.StdDevAmount-want) > 1e-9 {
		t.Errorf("expected stddev %.4f, got %.4f", want, profile.StdDevAmount)
	}
}

func TestCapacityEviction(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 3})
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		sess := store.Begin("user-1")
		sess.Record(makeTx(fmt.Sprintf("tx-%d", i), "user-1", float64(i+1)*100, now.Add(time.Duration(i)*time.Second)))
		sess.End()
	}

	profile := store.Baseline("user-1")

	if profile.Count() != 3 {
		t.Fatalf("expected window of 3, got %d", profile.Count())
	}
	// Oldest-first eviction: tx-0 and tx-1 are gone.
	if profile.History[0].ID != "tx-2" {
		t.Errorf("expected oldest surviving entry tx-2, got %s", profile.History[0].ID)
	}
	// Stats follow the evictions: mean of {300,400,500}.
	if profile.MeanAmount != 400 {
		t.Errorf("expected mean 400 after eviction, got %.2f", profile.MeanAmount)
	}
}

func TestTimeWindowEviction(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 100, WindowSpan: time.Hour})
	now := time.Now().UTC()

	sess := store.Begin("user-1")
	old := makeTx("tx-old", "user-1", 100, now.Add(-2*time.Hour))
	old.DeviceFingerprint = "dev-old"
	sess.Record(old)
	fresh := makeTx("tx-new", "user-1", 200, now.Add(-time.Minute))
	fresh.DeviceFingerprint = "dev-new"
	sess.Record(fresh)
	sess.End()

	profile := store.Baseline("user-1")

	if profile.Count() != 1 {
		t.Fatalf("expected expired entry evicted, got %d entries", profile.Count())
	}
	if profile.History[0].ID != "tx-new" {
		t.Errorf("expected tx-new to survive, got %s", profile.History[0].ID)
	}
	if profile.SeenDevice("dev-old") {
		t.Error("expected expired device to be pruned")
	}
	if !profile.SeenDevice("dev-new") {
		t.Error("expected fresh device to remain")
	}
}

func TestDeviceAndIPTracking(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 10})
	now := time.Now().UTC()

	tx := makeTx("tx-1", "user-1", 50, now)
	tx.DeviceFingerprint = "dev-a"
	tx.IP = "198.51.100.4"

	sess := store.Begin("user-1")
	sess.Record(tx)
	sess.End()

	profile := store.Baseline("user-1")

	if !profile.SeenDevice("dev-a") {
		t.Error("expected dev-a to be seen")
	}
	if !profile.SeenIP("198.51.100.4") {
		t.Error("expected IP to be seen")
	}
	if profile.SeenDevice("dev-b") {
		t.Error("expected dev-b to be unseen")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 10})
	now := time.Now().UTC()

	sess := store.Begin("user-1")
	sess.Record(makeTx("tx-1", "user-1", 100, now))
	sess.End()

	profile := store.Baseline("user-1")
	profile.History[0].Amount = 999999
	profile.Devices["tampered"] = struct{}{}

	again := store.Baseline("user-1")
	if again.History[0].Amount != 100 {
		t.Error("snapshot mutation leaked into the store")
	}
	if again.SeenDevice("tampered") {
		t.Error("snapshot device mutation leaked into the store")
	}
}

func TestPerUserSerialization(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 1000})
	now := time.Now().UTC()

	const workers = 20
	var wg sync.WaitGroup
	missing := make(chan int, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := store.Begin("user-1")
			before := sess.Baseline().Count()
			sess.Record(makeTx(fmt.Sprintf("tx-%d", i), "user-1", 100, now))
			after := sess.Baseline().Count()
			sess.End()
			// Within one session the window grows by exactly one.
			if after != before+1 {
				missing <- i
			}
		}(i)
	}
	wg.Wait()
	close(missing)

	for i := range missing {
		t.Errorf("worker %d observed a lost update", i)
	}

	profile := store.Baseline("user-1")
	if profile.Count() != workers {
		t.Errorf("expected %d committed transactions, got %d", workers, profile.Count())
	}
}

func TestConcurrentDistinctUsers(t *testing.T) {
	store := NewStore(domain.BehaviorConfig{WindowCapacity: 100})
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for u := 0; u < 10; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", u)
			for i := 0; i < 50; i++ {
				sess := store.Begin(userID)
				sess.Record(makeTx(fmt.Sprintf("tx-%d-%d", u, i), userID, 10, now))
				sess.End()
			}
		}(u)
	}
	wg.Wait()

	if store.Users() != 10 {
		t.Errorf("expected 10 tracked users, got %d", store.Users())
	}
	for u := 0; u < 10; u++ {
		profile := store.Baseline(fmt.Sprintf("user-%d", u))
		if profile.Count() != 50 {
			t.Errorf("user-%d: expected 50 entries, got %d", u, profile.Count())
		}
	}
}
