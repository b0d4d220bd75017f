package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/calltrace/pkg/schema"
)

// archived is an archived trace as it comes out of encoding/json.
func archived() map[string]any {
	return map[string]any{
		"id": "trace-1",
		"snapshot": map[string]any{
			"participants": []any{"main", "f"},
			"statements": []any{
				map[string]any{"kind": "loop", "count": float64(3)},
				map[string]any{"kind": "call", "from": "main", "to": "f", "text": "f()"},
				map[string]any{"kind": "end"},
			},
		},
	}
}

func TestGoJQ_SingleOutput(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), ".snapshot.participants | length", archived())
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), ".snapshot.statements[].kind", archived())
	require.NoError(t, err)
	assert.Equal(t, []any{"loop", "call", "end"}, out)
}

func TestGoJQ_NoOutput(t *testing.T) {
	out, err := NewGoJQEngine().Evaluate(context.Background(), `.snapshot.statements[] | select(.kind == "raise")`, archived())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	out, err := NewGoJQEngine().EvaluateAll(context.Background(), ".id", archived())
	require.NoError(t, err)
	assert.Equal(t, []any{"trace-1"}, out)
}

func TestGoJQ_NormalizesGoValues(t *testing.T) {
	data := map[string]any{"calls": int64(4), "names": []string{"a", "b"}}
	out, err := NewGoJQEngine().Evaluate(context.Background(), "[.calls + 1, (.names | length)]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{5, 2}, out)
}

func TestGoJQ_EnvironmentHidden(t *testing.T) {
	t.Setenv("CALLTRACE_SECRET", "x")
	out, err := NewGoJQEngine().Evaluate(context.Background(), "$ENV | length", archived())
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), ".snapshot[", archived())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGoJQ_RuntimeError(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), ".id + 1", archived())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQuery))
}

func TestGoJQ_EmptyExpression(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
