// Package panel serves the trace archive over HTTP: a JSON API for archived
// traces, on-demand runs, and Server-Sent Events for traces being recorded.
package panel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rendis/calltrace/internal/logging"
	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/internal/streaming"
	"github.com/rendis/calltrace/pkg/tracer"
)

// Runner records one trace, notifying observers of every event as it
// happens. The returned record is archived by the panel.
type Runner func(ctx context.Context, observers ...tracer.Observer) (*store.TraceRecord, error)

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Store  store.Store
	Hub    streaming.EventHub
	Run    Runner
	Logger *slog.Logger
}

// PanelServer serves the trace panel.
type PanelServer struct {
	deps   PanelDeps
	events *store.EventLog
}

// NewPanelServer creates a PanelServer. Store is required; Hub and Run are
// optional and their routes answer 501 without them.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &PanelServer{
		deps:   deps,
		events: store.NewEventLog(deps.Store),
	}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/traces", s.handleListTraces)
	mux.HandleFunc("GET /api/traces/{id}", s.handleShowTrace)
	mux.HandleFunc("GET /api/traces/{id}/stats", s.handleTraceStats)
	mux.HandleFunc("GET /api/traces/{id}/image", s.handleTraceImage)
	mux.HandleFunc("DELETE /api/traces/{id}", s.handleDeleteTrace)
	mux.HandleFunc("POST /api/runs", s.handleRun)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/traces/{id}", s.handleSSETrace)

	return mux
}
