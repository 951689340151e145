package fraud

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/openreturns/kestrel/internal/domain"
)

// CELScorer evaluates a tenant-configured CEL expression over behavioral
// counters. Used when a policy sets risk_scoring.score_expression, replacing
// the built-in weighted scorer for that policy.
type CELScorer struct {
	program cel.Program
}

// NewCELScorer compiles a scoring expression. The expression must produce a
// numeric value; results are clamped to [0, ScoreMax].
func NewCELScorer(expression string) (*CELScorer, error) {
	env, err := cel.NewEnv(
		cel.Variable("return_count", cel.IntType),
		cel.Variable("return_value", cel.DoubleType),
		cel.Variable("max_returns_per_month", cel.IntType),
		cel.Variable("max_return_value_per_month", cel.DoubleType),
		cel.Variable("request_value", cel.DoubleType),
		cel.Variable("order_total", cel.DoubleType),
		cel.Variable("account_age_days", cel.IntType),
		cel.Variable("first_time_buyer", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, domain.ConfigurationError("score expression: %v", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, domain.ConfigurationError("score expression must return int or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for score expression: %w", err)
	}

	return &CELScorer{program: program}, nil
}

// Score implements Scorer.
func (s *CELScorer) Score(in *Input) (float64, error) {
	activation := map[string]any{
		"return_count":               in.ReturnCount,
		"return_value":               in.ReturnValue,
		"max_returns_per_month":      in.MaxReturnsPerMonth,
		"max_return_value_per_month": in.MaxReturnValuePerMonth,
		"request_value":              in.RequestValue,
		"order_total":                in.OrderTotal,
		"account_age_days":           in.AccountAgeDays,
		"first_time_buyer":           in.FirstTimeBuyer,
	}

	out, _, err := s.program.Eval(activation)
	if err != nil {
		return 0, fmt.Errorf("score expression evaluation: %w", err)
	}

	score := toScore(out)
	if score < 0 {
		score = 0
	}
	if score > ScoreMax {
		score = ScoreMax
	}
	return score, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0
	}
}
