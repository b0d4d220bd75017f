package store

import "context"

// Store defines the trace archive contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Traces
	SaveTrace(ctx context.Context, rec *TraceRecord) error
	GetTrace(ctx context.Context, id string) (*TraceRecord, error)
	ListTraces(ctx context.Context, filter TraceFilter) ([]*TraceSummary, error)
	MarkRendered(ctx context.Context, id, imagePath string) error
	DeleteTrace(ctx context.Context, id string) error

	// Invocation log (append-only, written with the trace)
	GetEvents(ctx context.Context, traceID string, since int64) ([]*EventRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
