package domain

import (
	"time"
)

// Signal is the bounded, explainable output of one fraud check for one
// transaction. Ephemeral: created fresh per transaction, never stored on
// its own, only as part of the verdict's audit record.
type Signal struct {
	// Evaluator is the name of the check that produced this signal.
	Evaluator string `json:"evaluator"`

	// Score is the signal strength in [0,1].
	Score float64 `json:"score"`

	// Rationale explains the score in human-readable terms.
	Rationale string `json:"rationale"`

	// Weight the aggregator applied to this signal.
	Weight float64 `json:"weight"`

	// Degraded marks a signal substituted with its neutral value because
	// the evaluator timed out or failed.
	Degraded bool `json:"degraded,omitempty"`

	// ProcessMs is the evaluator's processing time in milliseconds.
	ProcessMs int64 `json:"processMs,omitempty"`
}

// Decision is the categorical fraud verdict for a transaction.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionReview   Decision = "review"
	DecisionBlocked  Decision = "blocked"
)

// Severity orders decisions from least to most severe.
func (d Decision) Severity() int {
	switch d {
	case DecisionBlocked:
		return 2
	case DecisionReview:
		return 1
	default:
		return 0
	}
}

// Verdict is the final scored decision for one transaction. Immutable once
// created; the unit written to audit sinks. Each scored transaction yields
// exactly one verdict.
type Verdict struct {
	ID       string   `json:"id"`
	TxID     string   `json:"txId"`
	UserID   string   `json:"userId"`
	Score    float64  `json:"score"`
	Decision Decision `json:"decision"`

	// Signals are the contributing signals, including degraded ones.
	Signals []Signal `json:"signals"`

	DecidedAt time.Time `json:"decidedAt"`

	Metadata VerdictMetadata `json:"metadata"`
}

// VerdictMetadata carries processing information for observability.
type VerdictMetadata struct {
	TraceID          string `json:"traceId,omitempty"`
	SignalsEvaluated int    `json:"signalsEvaluated"`
	SignalsDegraded  int    `json:"signalsDegraded"`
	SignalsMs        int64  `json:"signalsMs"`
	TotalMs          int64  `json:"totalMs"`
	EngineVersion    string `json:"engineVersion"`
}

// Alertable reports whether the verdict should be pushed to alert sinks.
func (v *Verdict) Alertable() bool {
	return v.Decision == DecisionReview || v.Decision == DecisionBlocked
}

// Reasons extracts the rationales of signals that contributed risk.
func (v *Verdict) Reasons() []string {
	var reasons []string
	for _, s := range v.Signals {
		if s.Score > 0 {
			reasons = append(reasons, s.Rationale)
		}
	}
	return reasons
}
