package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/pkg/tracer"
)

// newTestServer opens a migrated archive holding two traces: "ok-1", which
// loops over parse_row, and "bad-1", whose only call fails.
func newTestServer(t *testing.T) (*TraceServer, store.Store) {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SaveTrace(ctx, traceWithLoop(t, "ok-1")))
	require.NoError(t, s.SaveTrace(ctx, traceWithFailure(t, "bad-1")))

	return NewTraceServer(TraceServerDeps{Store: s, Version: "test"}), s
}

func traceWithLoop(t *testing.T, id string) *store.TraceRecord {
	t.Helper()
	rec := store.NewRecorder()
	tr := tracer.New(tracer.WithID(id), tracer.WithName("loop"), tracer.WithObserver(rec))
	parse := tracer.Wrap1(tr, "parse_row", func(_ context.Context, i int) (int, error) { return i * 2, nil })
	process := tracer.Wrap1(tr, "process_data", func(ctx context.Context, n int) (int, error) {
		for i := range n {
			_, _ = parse(ctx, i)
		}
		return n, nil
	})
	_, _ = process(context.Background(), 4)

	out := store.NewTraceRecord(tr)
	out.Events = rec.Events()
	return out
}

func traceWithFailure(t *testing.T, id string) *store.TraceRecord {
	t.Helper()
	rec := store.NewRecorder()
	tr := tracer.New(tracer.WithID(id), tracer.WithName("failing"), tracer.WithObserver(rec))
	fail := tracer.WrapErr0(tr, "fetch", func(context.Context) error { return errors.New("boom") })
	_ = fail(context.Background())

	out := store.NewTraceRecord(tr)
	out.Events = rec.Events()
	return out
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// --- List ---

func TestListTool(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleList(context.Background(), buildRequest("calltrace.list", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Traces []store.TraceSummary `json:"traces"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Traces, 2)
}

func TestListToolFilters(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		filter map[string]any
		want   []string
	}{
		{"failed only", map[string]any{"failed_only": true}, []string{"bad-1"}},
		{"by name", map[string]any{"name": "loop"}, []string{"ok-1"}},
		{"by participant", map[string]any{"participant": "parse_row"}, []string{"ok-1"}},
		{"expr where", map[string]any{"where": "loops > 0"}, []string{"ok-1"}},
		{"cel where", map[string]any{"where": "trace.failures > 0", "lang": "cel"}, []string{"bad-1"}},
		{"limit", map[string]any{"limit": float64(1)}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := buildRequest("calltrace.list", map[string]any{"filter": tc.filter})
			result, err := s.handleList(context.Background(), req)
			require.NoError(t, err)
			require.False(t, result.IsError, extractText(t, result))

			var out struct {
				Traces []store.TraceSummary `json:"traces"`
			}
			unmarshalResult(t, result, &out)
			if tc.want == nil {
				assert.Len(t, out.Traces, 1)
				return
			}
			ids := make([]string, len(out.Traces))
			for i, tr := range out.Traces {
				ids[i] = tr.ID
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestListToolRejectsJQFilter(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.list", map[string]any{
		"filter": map[string]any{"where": ".calls", "lang": "jq"},
	})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "jq is not a filter language")
}

func TestListToolNonBoolFilter(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.list", map[string]any{
		"filter": map[string]any{"where": "calls + 1"},
	})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Show ---

func TestShowToolPlantUML(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.show", map[string]any{"trace_id": "ok-1"})
	result, err := s.handleShow(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	text := extractText(t, result)
	assert.Contains(t, text, "@startuml")
	assert.Contains(t, text, "loop 4 times")
	assert.Contains(t, text, "@enduml")
}

func TestShowToolTextFormats(t *testing.T) {
	s, _ := newTestServer(t)

	for format, want := range map[string]string{
		"mermaid": "sequenceDiagram",
		"ascii":   "parse_row",
		"graph":   "graph LR",
	} {
		t.Run(format, func(t *testing.T) {
			req := buildRequest("calltrace.show", map[string]any{"trace_id": "ok-1", "format": format})
			result, err := s.handleShow(context.Background(), req)
			require.NoError(t, err)
			require.False(t, result.IsError, extractText(t, result))
			assert.Contains(t, extractText(t, result), want)
		})
	}
}

func TestShowToolStats(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.show", map[string]any{"trace_id": "bad-1", "format": "stats"})
	result, err := s.handleShow(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		TraceID string               `json:"trace_id"`
		Callees []*store.CalleeStats `json:"callees"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "bad-1", out.TraceID)
	require.Len(t, out.Callees, 1)
	assert.Equal(t, "fetch", out.Callees[0].Callee)
	assert.Equal(t, 1, out.Callees[0].Calls)
	assert.Equal(t, 1, out.Callees[0].Failures)
}

func TestShowToolJSON(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.show", map[string]any{"trace_id": "ok-1", "format": "json"})
	result, err := s.handleShow(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var rec store.TraceRecord
	unmarshalResult(t, result, &rec)
	assert.Equal(t, "ok-1", rec.ID)
	assert.Equal(t, 5, rec.Stats.Calls)
	assert.Equal(t, 1, rec.Stats.Loops)
}

func TestShowToolImage(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.show", map[string]any{"trace_id": "ok-1", "format": "image"})
	result, err := s.handleShow(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestShowToolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing id", map[string]any{}},
		{"unknown trace", map[string]any{"trace_id": "nope"}},
		{"unknown format", map[string]any{"trace_id": "ok-1", "format": "svg"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleShow(context.Background(), buildRequest("calltrace.show", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

// --- Query ---

func TestQueryTool(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.query", map[string]any{
		"trace_id": "ok-1",
		"jq":       ".snapshot.participants[]",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Results []any `json:"results"`
	}
	unmarshalResult(t, result, &out)
	assert.Contains(t, out.Results, "process_data")
	assert.Contains(t, out.Results, "parse_row")
}

func TestQueryToolEmptyResult(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("calltrace.query", map[string]any{"trace_id": "ok-1", "jq": "empty"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Results []any `json:"results"`
	}
	unmarshalResult(t, result, &out)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestQueryToolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing jq", map[string]any{"trace_id": "ok-1"}},
		{"missing id", map[string]any{"jq": "."}},
		{"bad program", map[string]any{"trace_id": "ok-1", "jq": ".[["}},
		{"unknown trace", map[string]any{"trace_id": "nope", "jq": "."}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleQuery(context.Background(), buildRequest("calltrace.query", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

// --- Delete ---

func TestDeleteTool(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleDelete(ctx, buildRequest("calltrace.delete", map[string]any{"trace_id": "bad-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "bad-1", out["trace_id"])

	traces, err := st.ListTraces(ctx, store.TraceFilter{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "ok-1", traces[0].ID)

	again, err := s.handleDelete(ctx, buildRequest("calltrace.delete", map[string]any{"trace_id": "bad-1"}))
	require.NoError(t, err)
	assert.True(t, again.IsError)
}

func TestExtractInt(t *testing.T) {
	f := map[string]any{"a": float64(7), "b": 3, "c": "12", "d": "x", "e": true}
	assert.Equal(t, 7, extractInt(f, "a", 0))
	assert.Equal(t, 3, extractInt(f, "b", 0))
	assert.Equal(t, 12, extractInt(f, "c", 0))
	assert.Equal(t, 5, extractInt(f, "d", 5))
	assert.Equal(t, 5, extractInt(f, "e", 5))
	assert.Equal(t, 5, extractInt(f, "missing", 5))
	assert.Equal(t, 5, extractInt(nil, "a", 5))
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
