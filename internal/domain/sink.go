package domain

import "context"

// AuditSink receives the full audit record for every scored transaction.
// Store must be idempotent on the transaction id.
type AuditSink interface {
	Store(ctx context.Context, verdict *Verdict, tx *Transaction) error
}

// AlertSink receives verdicts that warrant attention. Invoked only for
// review and blocked decisions.
type AlertSink interface {
	Notify(ctx context.Context, verdict *Verdict) error
}
