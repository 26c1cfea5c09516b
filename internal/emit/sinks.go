package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/shrike/internal/domain"
)

// RepositoryAuditSink persists the full verdict and transaction as the audit
// record. Idempotency on the transaction id is provided by the repository.
type RepositoryAuditSink struct {
	repo domain.Repository
}

func NewRepositoryAuditSink(repo domain.Repository) *RepositoryAuditSink {
	return &RepositoryAuditSink{repo: repo}
}

func (s *RepositoryAuditSink) Store(ctx context.Context, verdict *domain.Verdict, tx *domain.Transaction) error {
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	if err := s.repo.SaveAuditRecord(ctx, verdict, tx); err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}
	return nil
}

// BusAlertSink publishes alertable verdicts to the alert topic for
// downstream consumers (case management, notification fan-out).
type BusAlertSink struct {
	bus domain.EventBus
}

func NewBusAlertSink(bus domain.EventBus) *BusAlertSink {
	return &BusAlertSink{bus: bus}
}

func (s *BusAlertSink) Notify(ctx context.Context, verdict *domain.Verdict) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return s.bus.Publish(ctx, domain.TopicAlert, payload)
}

// LogAlertSink writes alertable verdicts to the structured log. Always wired
// so operators see alerts even with no external sink configured.
type LogAlertSink struct {
	logger *slog.Logger
}

func NewLogAlertSink(logger *slog.Logger) *LogAlertSink {
	return &LogAlertSink{logger: logger}
}

func (s *LogAlertSink) Notify(_ context.Context, verdict *domain.Verdict) error {
	s.logger.Warn("fraud alert",
		"txId", verdict.TxID,
		"userId", verdict.UserID,
		"score", verdict.Score,
		"decision", verdict.Decision,
		"reasons", verdict.Reasons())
	return nil
}
