// Package behavior maintains the rolling per-user transaction window used as
// the baseline for anomaly signals.
package behavior

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

const shardCount = 64

// Store owns all mutable per-user behavior state. Profiles are mutated only
// here, and only through a Session, which serializes the full score cycle
// for one user: the baseline read for transaction T happens-before Record(T),
// and Record(T) happens-before the baseline read for any later transaction
// of the same user. Different users never contend.
type Store struct {
	capacity int
	span     time.Duration

	shards [shardCount]*shard

	// now is injectable for tests.
	now func() time.Time
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu      sync.Mutex
	history []domain.Transaction // newest last

	// Rolling sums over history, maintained incrementally on append/evict.
	sum   float64
	sumSq float64

	devices map[string]time.Time // fingerprint -> last seen
	ips     map[string]time.Time // ip -> last seen
}

// NewStore creates a behavior store bounded by capacity and/or time span.
func NewStore(cfg domain.BehaviorConfig) *Store {
	s := &Store{
		capacity: cfg.WindowCapacity,
		span:     cfg.WindowSpan,
		now:      time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{users: make(map[string]*userState)}
	}
	return s
}

// Session holds the exclusive lock on one user's state for the duration of a
// score cycle. Callers must call End exactly once.
type Session struct {
	store  *Store
	userID string
	state  *userState
}

// Begin locks the user's state and returns a session. Blocks while another
// session for the same user is open.
func (s *Store) Begin(userID string) *Session {
	state := s.userFor(userID)
	state.mu.Lock()
	return &Session{store: s, userID: userID, state: state}
}

// Baseline returns a snapshot of the user's profile as of before the current
// transaction. Never fails: an unseen user yields an empty profile.
func (sess *Session) Baseline() *domain.UserProfile {
	sess.store.evictLocked(sess.state)
	return sess.store.snapshotLocked(sess.userID, sess.state)
}

// Record appends the transaction to the user's window, evicts expired or
// overflowing entries, and updates the rolling statistics incrementally.
// Must be called exactly once per transaction, after Baseline.
func (sess *Session) Record(tx *domain.Transaction) {
	st := sess.state
	st.history = append(st.history, *tx)
	st.sum += tx.Amount
	st.sumSq += tx.Amount * tx.Amount

	if tx.DeviceFingerprint != "" {
		st.devices[tx.DeviceFingerprint] = tx.Timestamp
	}
	if tx.IP != "" {
		st.ips[tx.IP] = tx.Timestamp
	}

	sess.store.evictLocked(st)
}

// End releases the user lock.
func (sess *Session) End() {
	sess.state.mu.Unlock()
}

// Baseline returns a profile snapshot without opening a session. Read-only
// callers (the profile API) use this; the scoring pipeline must go through
// Begin to get the serialization guarantee.
func (s *Store) Baseline(userID string) *domain.UserProfile {
	sess := s.Begin(userID)
	defer sess.End()
	return sess.Baseline()
}

func (s *Store) userFor(userID string) *userState {
	sh := s.shards[shardIndex(userID)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.users[userID]
	if !ok {
		state = &userState{
			devices: make(map[string]time.Time),
			ips:     make(map[string]time.Time),
		}
		sh.users[userID] = state
	}
	return state
}

// evictLocked drops entries outside the window, oldest first. Caller holds
// the user lock.
func (s *Store) evictLocked(st *userState) {
	cutoff := time.Time{}
	if s.span > 0 {
		cutoff = s.now().Add(-s.span)
	}

	drop := 0
	for drop < len(st.history) {
		tx := st.history[drop]
		expired := s.span > 0 && tx.Timestamp.Before(cutoff)
		overflow := s.capacity > 0 && len(st.history)-drop > s.capacity
		if !expired && !overflow {
			break
		}
		st.sum -= tx.Amount
		st.sumSq -= tx.Amount * tx.Amount
		drop++
	}
	if drop > 0 {
		st.history = append(st.history[:0], st.history[drop:]...)
	}

	if s.span > 0 {
		for fp, seen := range st.devices {
			if seen.Before(cutoff) {
				delete(st.devices, fp)
			}
		}
		for ip, seen := range st.ips {
			if seen.Before(cutoff) {
				delete(st.ips, ip)
			}
		}
	}
}

func (s *Store) snapshotLocked(userID string, st *userState) *domain.UserProfile {
	profile := &domain.UserProfile{
		UserID:  userID,
		History: make([]domain.Transaction, len(st.history)),
		Devices: make(map[string]struct{}, len(st.devices)),
		IPs:     make(map[string]struct{}, len(st.ips)),
	}
	copy(profile.History, st.history)

	for fp := range st.devices {
		profile.Devices[fp] = struct{}{}
	}
	for ip := range st.ips {
		profile.IPs[ip] = struct{}{}
	}

	if n := float64(len(st.history)); n > 0 {
		mean := st.sum / n
		variance := st.sumSq/n - mean*mean
		if variance < 0 {
			variance = 0 // float drift from incremental sums
		}
		profile.MeanAmount = mean
		profile.StdDevAmount = math.Sqrt(variance)
		profile.LastSeen = st.history[len(st.history)-1].Timestamp
	}

	return profile
}

// Users returns the number of tracked users, for diagnostics.
func (s *Store) Users() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.users)
		sh.mu.Unlock()
	}
	return total
}

func shardIndex(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % shardCount)
}
