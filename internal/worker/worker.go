// Package worker provides async transaction processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/pipeline"
)

// Worker consumes raw transactions published to the ingestion topic, scores
// them through the pipeline, and publishes the verdicts. This is the bus
// alternative to the synchronous HTTP scoring endpoint.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	subscriptions []domain.Subscription
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// Stop cancels all subscriptions.
func (w *Worker) Stop() {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.subscriptions = nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var raw domain.RawTransaction
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		w.logger.Error("failed to parse transaction message",
			"messageId", msg.ID,
			"error", err,
		)
		return err
	}

	verdict, err := w.pipeline.Score(ctx, &raw)
	if err != nil {
		// Malformed bus input is logged and dropped; there is no caller
		// to return a 400 to.
		w.logger.Warn("rejected malformed transaction from bus",
			"messageId", msg.ID,
			"error", err,
		)
		return err
	}

	payload, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, domain.TopicVerdict, payload); err != nil {
		w.logger.Error("failed to publish verdict",
			"txId", verdict.TxID,
			"error", err,
		)
		return err
	}

	return nil
}
