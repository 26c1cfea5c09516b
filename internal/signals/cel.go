package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/shrike/internal/domain"
)

// NewExpressionEnv creates the CEL environment shared by all operator-defined
// expression evaluators.
func NewExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("mean_amount", cel.DoubleType),
		cel.Variable("stddev_amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Expression is an operator-defined evaluator compiled from a CEL expression
// at startup. The expression sees the transaction and baseline statistics and
// yields a bool, int, or double, clamped to [0,1].
type Expression struct {
	id      string
	source  string
	program cel.Program
}

// NewExpression compiles an expression evaluator. Compile errors surface as
// ConfigurationError so a bad expression prevents startup.
func NewExpression(env *cel.Env, cfg domain.ExpressionConfig) (*Expression, error) {
	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.ConfigurationError{
			Field:  "signals.expressions." + cfg.ID,
			Reason: fmt.Sprintf("compile failed: %v", issues.Err()),
		}
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, &domain.ConfigurationError{
			Field:  "signals.expressions." + cfg.ID,
			Reason: fmt.Sprintf("program failed: %v", err),
		}
	}

	return &Expression{id: cfg.ID, source: cfg.Expression, program: program}, nil
}

func (e *Expression) Name() string { return "expr_" + e.id }

func (e *Expression) Evaluate(_ context.Context, tx *domain.Transaction, baseline *domain.UserProfile) domain.Signal {
	activation := map[string]any{
		"amount":         tx.Amount,
		"currency":       tx.Currency,
		"payment_method": string(tx.PaymentMethod),
		"merchant_id":    tx.MerchantID,
		"ip":             tx.IP,
		"hour":           int64(tx.Timestamp.In(time.UTC).Hour()),
		"history_count":  int64(baseline.Count()),
		"mean_amount":    baseline.MeanAmount,
		"stddev_amount":  baseline.StdDevAmount,
	}

	out, _, err := e.program.Eval(activation)
	if err != nil {
		return degraded(e.Name(), fmt.Sprintf("expression error: %v", err))
	}

	return domain.Signal{
		Evaluator: e.Name(),
		Score:     toScore(out),
		Rationale: fmt.Sprintf("expression %s matched", e.id),
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
