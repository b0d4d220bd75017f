package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/calltrace/internal/diagram"
	"github.com/rendis/calltrace/internal/expressions"
	"github.com/rendis/calltrace/internal/store"
)

// handleList returns archived trace summaries.
func (s *TraceServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := mcp.ParseStringMap(req, "filter", nil)

	tf := store.TraceFilter{}
	if name, ok := filter["name"].(string); ok {
		tf.Name = name
	}
	if p, ok := filter["participant"].(string); ok {
		tf.Participant = p
	}
	if failed, ok := filter["failed_only"].(bool); ok {
		tf.FailedOnly = failed
	}
	limit := extractInt(filter, "limit", 50)

	where, _ := filter["where"].(string)
	var engine expressions.Engine
	if where != "" {
		lang, _ := filter["lang"].(string)
		e, err := expressions.NewFilterEngine(lang)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		engine = e
	} else {
		tf.Limit = limit
	}

	traces, err := s.store.ListTraces(ctx, tf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}

	if engine != nil {
		match := func(ctx context.Context, fields map[string]any) (bool, error) {
			return expressions.Match(ctx, engine, where, fields)
		}
		traces, err = store.FilterSummaries(ctx, traces, match, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("filter failed: %v", err)), nil
		}
	}
	if traces == nil {
		traces = []*store.TraceSummary{}
	}
	return marshalResult(map[string]any{"traces": traces})
}

// handleShow renders one trace.
func (s *TraceServer) handleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("trace_id")
	if err != nil {
		return mcp.NewToolResultError("trace_id is required"), nil
	}
	format := req.GetString("format", "plantuml")

	rec, err := s.store.GetTrace(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace lookup failed: %v", err)), nil
	}

	switch format {
	case "json":
		return marshalResult(rec)
	case "stats":
		stats, err := s.events.Replay(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("replay failed: %v", err)), nil
		}
		ordered := make([]*store.CalleeStats, 0, len(stats))
		for _, name := range slices.Sorted(maps.Keys(stats)) {
			ordered = append(ordered, stats[name])
		}
		return marshalResult(map[string]any{"trace_id": id, "callees": ordered})
	case "image":
		model, err := diagram.Build(rec.Snapshot)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("call graph build failed: %v", err)), nil
		}
		png, err := diagram.RenderImage(ctx, model)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}

	text, err := diagram.RenderText(rec.Snapshot, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// handleQuery runs jq over a trace's JSON form.
func (s *TraceServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("trace_id")
	if err != nil {
		return mcp.NewToolResultError("trace_id is required"), nil
	}
	query, err := req.RequireString("jq")
	if err != nil {
		return mcp.NewToolResultError("jq is required"), nil
	}

	rec, err := s.store.GetTrace(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace lookup failed: %v", err)), nil
	}
	doc, err := rec.Document()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode trace: %v", err)), nil
	}

	results, err := expressions.NewGoJQEngine().EvaluateAll(ctx, query, doc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if results == nil {
		results = []any{}
	}
	return marshalResult(map[string]any{"results": results})
}

// handleDelete removes a trace.
func (s *TraceServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("trace_id")
	if err != nil {
		return mcp.NewToolResultError("trace_id is required"), nil
	}
	if err := s.store.DeleteTrace(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
	}
	s.logger.Info("deleted trace", slog.String("trace_id", id))
	return marshalResult(map[string]any{"ok": true, "trace_id": id})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
