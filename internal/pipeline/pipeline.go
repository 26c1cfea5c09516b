// Package pipeline orchestrates the per-transaction scoring flow:
// normalize, read baseline, evaluate signals, record, aggregate, emit.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/shrike/internal/behavior"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/normalize"
	"github.com/opensource-finance/shrike/internal/scoring"
	"github.com/opensource-finance/shrike/internal/signals"
)

var tracer = otel.Tracer("shrike-pipeline")

// Emitter is the async verdict delivery stage.
type Emitter interface {
	Emit(verdict *domain.Verdict, tx *domain.Transaction)
}

// Pipeline scores transactions end to end. Safe for concurrent use:
// transactions for different users are fully parallel, transactions for the
// same user serialize on the behavior store session.
type Pipeline struct {
	normalizer *normalize.Normalizer
	store      *behavior.Store
	registry   *signals.Registry
	aggregator *scoring.Aggregator
	emitter    Emitter
	deadline   time.Duration
	logger     *slog.Logger
}

// New assembles a scoring pipeline.
func New(
	normalizer *normalize.Normalizer,
	store *behavior.Store,
	registry *signals.Registry,
	aggregator *scoring.Aggregator,
	emitter Emitter,
	deadline time.Duration,
	logger *slog.Logger,
) *Pipeline {
	if deadline <= 0 {
		deadline = 300 * time.Millisecond
	}
	return &Pipeline{
		normalizer: normalizer,
		store:      store,
		registry:   registry,
		aggregator: aggregator,
		emitter:    emitter,
		deadline:   deadline,
		logger:     logger,
	}
}

// Score processes one raw transaction and returns its verdict. Malformed
// input is the only error path; once a transaction normalizes, a verdict is
// always produced, degraded evaluators included.
func (p *Pipeline) Score(ctx context.Context, raw *domain.RawTransaction) (*domain.Verdict, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.score")
	defer span.End()

	tx, err := p.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.String("tx.user_id", tx.UserID),
		attribute.Float64("tx.amount", tx.Amount),
	)

	evalCtx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	// The session holds the user lock across baseline read, evaluation,
	// and record, so evaluators see a consistent pre-update baseline and
	// concurrent transactions for the same user serialize.
	sess := p.store.Begin(tx.UserID)
	baseline := sess.Baseline()

	sigStart := time.Now()
	sigs := p.registry.EvaluateAll(evalCtx, tx, baseline)
	sigDuration := time.Since(sigStart)

	sess.Record(tx)
	sess.End()

	verdict := p.aggregator.Decide(tx, sigs)
	verdict.Metadata.SignalsMs = sigDuration.Milliseconds()
	verdict.Metadata.TotalMs = time.Since(start).Milliseconds()
	if span.SpanContext().TraceID().IsValid() {
		verdict.Metadata.TraceID = span.SpanContext().TraceID().String()
	}

	span.SetAttributes(
		attribute.Float64("verdict.score", verdict.Score),
		attribute.String("verdict.decision", string(verdict.Decision)),
		attribute.Int("verdict.signals_degraded", verdict.Metadata.SignalsDegraded),
	)
	if verdict.Decision == domain.DecisionBlocked {
		span.AddEvent("transaction blocked")
	}

	p.logger.Info("transaction scored",
		"txId", tx.ID,
		"userId", tx.UserID,
		"score", verdict.Score,
		"decision", verdict.Decision,
		"degraded", verdict.Metadata.SignalsDegraded,
		"totalMs", verdict.Metadata.TotalMs,
	)

	p.emitter.Emit(verdict, tx)

	return verdict, nil
}
