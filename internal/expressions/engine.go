package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/calltrace/pkg/schema"
)

// Engine evaluates query expressions against archived trace data.
// Three implementations: Expr and CEL (archive filters), GoJQ (trace queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// NewEngine returns the engine registered under lang: "expr", "cel" or "jq".
func NewEngine(lang string) (Engine, error) {
	switch lang {
	case "expr", "":
		return NewExprEngine(), nil
	case "cel":
		return NewCELEngine()
	case "jq":
		return NewGoJQEngine(), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang).
		WithDetails(map[string]any{"supported": []string{"expr", "cel", "jq"}})
}

// NewFilterEngine is NewEngine restricted to the languages that produce a
// boolean verdict: "expr" and "cel".
func NewFilterEngine(lang string) (Engine, error) {
	if lang == "jq" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq is not a filter language, use expr or cel")
	}
	return NewEngine(lang)
}

// Match evaluates a filter expression and requires a boolean result. A nil
// result counts as no match.
func Match(ctx context.Context, engine Engine, expression string, data map[string]any) (bool, error) {
	out, err := engine.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	}
	return false, schema.NewErrorf(schema.ErrCodeQuery,
		"%s filter %q must evaluate to a bool, got %s", engine.Name(), expression, fmt.Sprintf("%T", out)).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(engine, expression string, err error) *schema.TraceError {
	return schema.NewErrorf(schema.ErrCodeQuery,
		"%s evaluation failed for %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func compileError(engine, expression string, err error) *schema.TraceError {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"%s compile error in %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
