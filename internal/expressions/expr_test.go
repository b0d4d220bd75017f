package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/calltrace/pkg/schema"
)

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "calls * 2", summary())
	require.NoError(t, err)
	assert.Equal(t, 14, out)

	out, err = e.Evaluate(ctx, "len(participants)", summary())
	require.NoError(t, err)
	assert.Equal(t, 4, out)

	out, err = e.Evaluate(ctx, `filter(participants, # startsWith "p")`, summary())
	require.NoError(t, err)
	assert.Equal(t, []any{"process_data", "parse_row"}, out)
}

func TestExpr_UndefinedVariableIsNil(t *testing.T) {
	out, err := NewExprEngine().Evaluate(context.Background(), "missing ?? 5", summary())
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

func TestExpr_NilData(t *testing.T) {
	out, err := NewExprEngine().Evaluate(context.Background(), "1 + 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestExpr_EmptyExpression(t *testing.T) {
	_, err := NewExprEngine().Evaluate(context.Background(), "", summary())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestExpr_CompileError(t *testing.T) {
	_, err := NewExprEngine().Evaluate(context.Background(), "calls +* 1", summary())
	require.Error(t, err)

	var te *schema.TraceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeValidation, te.Code)
	assert.Equal(t, "calls +* 1", te.Details["expression"])
}

func TestExpr_RuntimeError(t *testing.T) {
	_, err := NewExprEngine().Evaluate(context.Background(), "participants[10]", summary())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQuery))
}

func TestExpr_CachesPrograms(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()
	_, err := e.Evaluate(ctx, "failures > 0", summary())
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, "failures > 0", summary())
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "calls > 5", summary())
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}
