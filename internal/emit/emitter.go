// Package emit delivers verdicts to audit and alert sinks off the scoring
// hot path.
package emit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Emitter fans verdicts out to the audit sink and, for review and blocked
// decisions, to the alert sinks. Delivery is asynchronous: Emit enqueues and
// returns immediately, so a slow sink never delays a scoring decision. Sink
// failures are isolated per destination and retried with backoff.
type Emitter struct {
	audit  domain.AuditSink
	alerts []domain.AlertSink

	queue   chan job
	retries int
	backoff time.Duration

	logger *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

type job struct {
	verdict *domain.Verdict
	tx      *domain.Transaction
}

// New creates an emitter and starts its delivery workers.
func New(cfg domain.PipelineConfig, audit domain.AuditSink, alerts []domain.AlertSink, logger *slog.Logger) *Emitter {
	queueSize := cfg.EmitQueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	workers := cfg.EmitWorkers
	if workers <= 0 {
		workers = 4
	}

	e := &Emitter{
		audit:   audit,
		alerts:  alerts,
		queue:   make(chan job, queueSize),
		retries: cfg.EmitRetries,
		backoff: cfg.EmitBackoff,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e
}

// Emit enqueues a verdict for delivery. Never blocks: when the queue is full
// the verdict is dropped from async delivery and logged, since the caller
// already holds the decision.
func (e *Emitter) Emit(verdict *domain.Verdict, tx *domain.Transaction) {
	select {
	case e.queue <- job{verdict: verdict, tx: tx}:
	default:
		e.logger.Error("emit queue full, dropping delivery",
			"txId", verdict.TxID,
			"decision", verdict.Decision)
	}
}

// Close stops accepting verdicts and waits for in-flight deliveries.
func (e *Emitter) Close() {
	e.stopOnce.Do(func() {
		close(e.queue)
	})
	e.wg.Wait()
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		e.deliver(j)
	}
}

func (e *Emitter) deliver(j job) {
	ctx := context.Background()

	if err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.audit.Store(ctx, j.verdict, j.tx)
	}); err != nil {
		e.logger.Error("audit delivery failed",
			"txId", j.verdict.TxID,
			"error", err)
	}

	if !j.verdict.Alertable() {
		return
	}

	for _, sink := range e.alerts {
		sink := sink
		if err := e.withRetry(ctx, func(ctx context.Context) error {
			return sink.Notify(ctx, j.verdict)
		}); err != nil {
			e.logger.Error("alert delivery failed",
				"txId", j.verdict.TxID,
				"decision", j.verdict.Decision,
				"error", err)
		}
	}
}

func (e *Emitter) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 && e.backoff > 0 {
			time.Sleep(e.backoff * time.Duration(attempt))
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
