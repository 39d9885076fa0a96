package models

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// ConditionKind is the closed set of step condition variants. Anything that
// is not one of the well-known forms is kept verbatim and evaluated as an
// expression against the job's accumulated outcome.
type ConditionKind string

const (
	ConditionOnSuccess  ConditionKind = "on_success" // default: run while the job has not failed
	ConditionOnFailure  ConditionKind = "on_failure" // run only after a previous step failed
	ConditionAlways     ConditionKind = "always"     // run regardless of prior outcome
	ConditionExpression ConditionKind = "expression" // free-form expr evaluated at runtime
)

// Condition decides whether a step executes, given the outcome of the steps
// before it.
type Condition struct {
	Kind       ConditionKind `json:"kind"`
	Expression string        `json:"expression,omitempty"`
}

// String renders the condition back into its `if:` form.
func (c Condition) String() string {
	switch c.Kind {
	case ConditionOnFailure:
		return "failure()"
	case ConditionAlways:
		return "always()"
	case ConditionExpression:
		return c.Expression
	case ConditionOnSuccess:
		return "success()"
	default:
		return "success()"
	}
}

// ConditionContext is the environment a condition is evaluated against.
type ConditionContext struct {
	SuccessSoFar bool
	Event        TriggerEvent
	Matrix       map[string]string
}

// ParseCondition maps an `if:` string onto a Condition. The well-known
// GitHub-style forms map to tagged variants; everything else becomes an
// expression.
func ParseCondition(raw string) Condition {
	switch strings.TrimSpace(raw) {
	case "", "success", "success()":
		return Condition{Kind: ConditionOnSuccess}
	case "failure", "failure()":
		return Condition{Kind: ConditionOnFailure}
	case "always", "always()":
		return Condition{Kind: ConditionAlways}
	default:
		return Condition{Kind: ConditionExpression, Expression: raw}
	}
}

// ShouldRun evaluates the condition. Expression conditions see `success`,
// `failure`, `event` and `matrix` and must yield a boolean.
func (c Condition) ShouldRun(cctx ConditionContext) (bool, error) {
	switch c.Kind {
	case ConditionAlways:
		return true, nil
	case ConditionOnFailure:
		return !cctx.SuccessSoFar, nil
	case ConditionExpression:
		return evaluateExpression(c.Expression, cctx)
	case ConditionOnSuccess:
		return cctx.SuccessSoFar, nil
	default:
		return cctx.SuccessSoFar, nil
	}
}

func evaluateExpression(expression string, cctx ConditionContext) (bool, error) {
	env := map[string]any{
		"success": cctx.SuccessSoFar,
		"failure": !cctx.SuccessSoFar,
		"event":   string(cctx.Event),
		"matrix":  cctx.Matrix,
	}

	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return false, fmt.Errorf("invalid condition expression %q: %w", expression, err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("condition expression %q failed: %w", expression, err)
	}

	value, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition expression %q must return a boolean, got %T", expression, result)
	}

	return value, nil
}
