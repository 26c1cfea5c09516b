// Package signals provides the composable fraud-check evaluators and the
// registry that runs them concurrently against a transaction.
package signals

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Evaluator is the capability contract every fraud check implements: a pure
// function of the transaction and the pre-update baseline. Evaluators hold no
// mutable state beyond static configuration, so any number may run
// concurrently for the same transaction.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal
}

// Registry holds the registered evaluators and their aggregation weights.
// New checks are added by implementing Evaluator and registering a weight,
// not by subclassing anything.
type Registry struct {
	mu         sync.RWMutex
	entries    []entry
	maxWorkers int
}

type entry struct {
	eval   Evaluator
	weight float64
}

// NewRegistry creates an evaluator registry with bounded concurrency.
func NewRegistry(maxWorkers int) *Registry {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Registry{maxWorkers: maxWorkers}
}

// Register adds an evaluator with its aggregation weight.
func (r *Registry) Register(eval Evaluator, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{eval: eval, weight: weight})
}

// Count returns the number of registered evaluators.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the registered evaluator names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.eval.Name()
	}
	return names
}

// EvaluateAll runs every registered evaluator concurrently and returns one
// signal per evaluator, in registration order. An evaluator that does not
// finish before ctx expires contributes its fail-closed neutral signal,
// marked degraded, rather than stalling the transaction.
func (r *Registry) EvaluateAll(ctx context.Context, tx *domain.Transaction, baseline *domain.UserProfile) []domain.Signal {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	if len(entries) == 0 {
		return nil
	}

	results := make([]domain.Signal, len(entries))
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.maxWorkers)

	for i, e := range entries {
		wg.Add(1)
		go func(idx int, e entry) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = r.runOne(ctx, e, tx, baseline)
		}(i, e)
	}

	wg.Wait()
	return results
}

func (r *Registry) runOne(ctx context.Context, e entry, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	start := time.Now()

	done := make(chan domain.Signal, 1)
	go func() {
		done <- e.eval.Evaluate(ctx, tx, baseline)
	}()

	var sig domain.Signal
	select {
	case sig = <-done:
	case <-ctx.Done():
		sig = degraded(e.eval.Name(), "evaluator timed out")
	}

	sig.Evaluator = e.eval.Name()
	sig.Score = clamp01(sig.Score)
	sig.Weight = e.weight
	sig.ProcessMs = time.Since(start).Milliseconds()
	return sig
}

// neutral is the fail-closed signal: missing or uncertain data yields zero
// risk, never an error and never a maximal score.
func neutral(name, rationale string) domain.Signal {
	return domain.Signal{Evaluator: name, Score: 0, Rationale: rationale}
}

// degraded marks a neutral signal substituted because the evaluator could
// not complete.
func degraded(name, rationale string) domain.Signal {
	sig := neutral(name, rationale)
	sig.Degraded = true
	return sig
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
