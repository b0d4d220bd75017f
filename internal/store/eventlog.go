package store

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

// Recorder is a tracer.Observer that keeps every event in memory so it can be
// archived with the trace.
type Recorder struct {
	mu     sync.Mutex
	events []tracer.Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEvent implements tracer.Observer.
func (r *Recorder) OnEvent(_ context.Context, ev tracer.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []tracer.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// CalleeStats is what the invocation log says about one callee.
type CalleeStats struct {
	Callee     string         `json:"callee"`
	Calls      int            `json:"calls"`
	Failures   int            `json:"failures"`
	Callers    []string       `json:"callers"`
	FailKinds  map[string]int `json:"fail_kinds,omitempty"`
	LastResult string         `json:"last_result,omitempty"`
}

// EventLog reads the invocation log of archived traces.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide invocation-log operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// GetEvents returns events for a trace with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, traceID string, since int64) ([]*EventRecord, error) {
	return el.store.GetEvents(ctx, traceID, since)
}

// Replay folds a trace's invocation log into per-callee statistics. Unlike the
// diagram, the log still holds every repeat that was collapsed into a loop.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, traceID string) (map[string]*CalleeStats, error) {
	events, err := el.store.GetEvents(ctx, traceID, 0)
	if err != nil {
		return nil, err
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap: expected %d, got %d", expected, e.Sequence).WithTrace(traceID)
		}
	}

	stats := make(map[string]*CalleeStats)
	for _, e := range events {
		cs, ok := stats[e.Callee]
		if !ok {
			cs = &CalleeStats{Callee: e.Callee}
			stats[e.Callee] = cs
		}

		switch e.Kind {
		case tracer.EventCall, tracer.EventRepeat:
			cs.Calls++
			if !slices.Contains(cs.Callers, e.Caller) {
				cs.Callers = append(cs.Callers, e.Caller)
			}
		case tracer.EventReturn:
			cs.LastResult = e.Detail
		case tracer.EventRaise:
			cs.Failures++
			if cs.FailKinds == nil {
				cs.FailKinds = make(map[string]int)
			}
			cs.FailKinds[e.Detail]++
		}
	}

	return stats, nil
}
