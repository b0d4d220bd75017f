package panel

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/rendis/calltrace/internal/diagram"
	"github.com/rendis/calltrace/internal/expressions"
	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/internal/streaming"
	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

// handleListTraces lists archived traces, newest first.
//
// Query parameters: name, participant, failed (true), where, lang, limit, offset.
func (s *PanelServer) handleListTraces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := store.TraceFilter{
		Name:        q.Get("name"),
		Participant: q.Get("participant"),
		FailedOnly:  q.Get("failed") == "true",
		Offset:      queryInt(r, "offset", 0),
	}
	limit := queryInt(r, "limit", 50)

	where := q.Get("where")
	if where == "" {
		filter.Limit = limit
	}
	traces, err := s.deps.Store.ListTraces(ctx, filter)
	if err != nil {
		writeTraceError(w, err)
		return
	}

	if where != "" {
		engine, err := expressions.NewFilterEngine(q.Get("lang"))
		if err != nil {
			writeTraceError(w, err)
			return
		}
		match := func(ctx context.Context, fields map[string]any) (bool, error) {
			return expressions.Match(ctx, engine, where, fields)
		}
		if traces, err = store.FilterSummaries(ctx, traces, match, limit); err != nil {
			writeTraceError(w, err)
			return
		}
	}
	if traces == nil {
		traces = []*store.TraceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

// handleShowTrace returns a trace as JSON, or as diagram text when format is set.
func (s *PanelServer) handleShowTrace(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.GetTrace(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTraceError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" || format == "json" {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	text, err := diagram.RenderText(rec.Snapshot, format)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, text)
}

// handleTraceStats replays a trace's event log into per-callee statistics.
func (s *PanelServer) handleTraceStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := s.events.Replay(r.Context(), id)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	callees := make([]*store.CalleeStats, 0, len(stats))
	for _, name := range slices.Sorted(maps.Keys(stats)) {
		callees = append(callees, stats[name])
	}
	writeJSON(w, http.StatusOK, map[string]any{"trace_id": id, "callees": callees})
}

// handleTraceImage renders the trace's call graph as PNG.
func (s *PanelServer) handleTraceImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.deps.Store.GetTrace(ctx, r.PathValue("id"))
	if err != nil {
		writeTraceError(w, err)
		return
	}
	model, err := diagram.Build(rec.Snapshot)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	png, err := diagram.RenderImage(ctx, model)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *PanelServer) handleDeleteTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteTrace(r.Context(), id); err != nil {
		writeTraceError(w, err)
		return
	}
	s.deps.Logger.Info("deleted trace", slog.String("trace_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "trace_id": id})
}

// handleRun records a new trace with the configured Runner, streaming its
// events to the hub, and archives it.
func (s *PanelServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Run == nil {
		writeError(w, http.StatusNotImplemented, "runs are not enabled")
		return
	}
	ctx := r.Context()

	var observers []tracer.Observer
	if s.deps.Hub != nil {
		observers = append(observers, streaming.Observer(s.deps.Hub))
	}
	rec, err := s.deps.Run(ctx, observers...)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	if err := s.deps.Store.SaveTrace(ctx, rec); err != nil {
		writeTraceError(w, err)
		return
	}
	s.deps.Logger.Info("archived trace", slog.String("trace_id", rec.ID), slog.Int("events", len(rec.Events)))
	writeJSON(w, http.StatusCreated, map[string]any{"trace_id": rec.ID, "stats": rec.Stats})
}

// statusFor maps a trace error code to an HTTP status.
func statusFor(err error) int {
	switch {
	case schema.IsCode(err, schema.ErrCodeNotFound):
		return http.StatusNotFound
	case schema.IsCode(err, schema.ErrCodeValidation), schema.IsCode(err, schema.ErrCodeQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeTraceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
