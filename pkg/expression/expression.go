//nolint:revive // exported
package expression

import (
	"errors"
	"fmt"

	"apicheck/pkg/httpclient"

	"github.com/expr-lang/expr"
	json "github.com/goccy/go-json"
)

var ErrNilEnv = errors.New("expression: nil environment")

// Env is the evaluation environment for expression assertions. The
// response is bound under "response" with status, body, headers and
// duration fields, matching the shape expressions are written against
// elsewhere in the system.
type Env struct {
	vars map[string]any
}

func NewEnv(vars map[string]any) *Env {
	if vars == nil {
		vars = map[string]any{}
	}
	return &Env{vars: vars}
}

// NewResponseEnv binds a decoded response for assertion expressions,
// e.g. `response.status == 200 && response.body.ok`. json.Number
// values are widened to float64 so numeric operators work directly.
func NewResponseEnv(v httpclient.ResponseVar) *Env {
	return NewEnv(map[string]any{
		"response": map[string]any{
			"status":   v.StatusCode,
			"body":     widenNumbers(v.Body),
			"headers":  v.Headers,
			"duration": v.Duration,
		},
	})
}

func widenNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = widenNumbers(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = widenNumbers(elem)
		}
		return out
	default:
		return v
	}
}

// EvalBool compiles and runs exprStr, requiring a boolean result.
func (e *Env) EvalBool(exprStr string) (bool, error) {
	if e == nil {
		return false, ErrNilEnv
	}

	program, err := expr.Compile(exprStr, expr.Env(e.vars), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", exprStr, err)
	}

	output, err := expr.Run(program, e.vars)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", exprStr, err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to bool, got %T", output)
	}
	return result, nil
}

// Eval compiles and runs exprStr with no result-type constraint.
func (e *Env) Eval(exprStr string) (any, error) {
	if e == nil {
		return nil, ErrNilEnv
	}

	program, err := expr.Compile(exprStr, expr.Env(e.vars))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", exprStr, err)
	}

	output, err := expr.Run(program, e.vars)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", exprStr, err)
	}
	return output, nil
}
