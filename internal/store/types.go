package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/calltrace/pkg/tracer"
)

// TraceRecord is the persisted form of a finished trace.
type TraceRecord struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	LoopThreshold int             `json:"loop_threshold"`
	Snapshot      tracer.Snapshot `json:"snapshot"`
	Stats         tracer.Stats    `json:"stats"`
	Events        []tracer.Event  `json:"events,omitempty"`
	Rendered      bool            `json:"rendered"`
	ImagePath     string          `json:"image_path,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTraceRecord captures a tracer's current snapshot and counters. Events
// are attached by the caller, usually from a Recorder.
func NewTraceRecord(t *tracer.Tracer) *TraceRecord {
	snap := t.Snapshot()
	return &TraceRecord{
		ID:            t.ID(),
		Name:          t.Name(),
		LoopThreshold: t.LoopThreshold(),
		Snapshot:      snap,
		Stats:         t.Stats(),
	}
}

// Document returns the record's JSON form as plain maps and slices, the shape
// jq queries run against.
func (r *TraceRecord) Document() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// TraceSummary is a trace row without statements or events.
type TraceSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Participants []string  `json:"participants"`
	Calls        int       `json:"calls"`
	Failures     int       `json:"failures"`
	Loops        int       `json:"loops"`
	Rendered     bool      `json:"rendered"`
	CreatedAt    time.Time `json:"created_at"`
}

// Fields exposes the summary as plain values for filter expressions.
func (s *TraceSummary) Fields() map[string]any {
	participants := make([]any, len(s.Participants))
	for i, p := range s.Participants {
		participants[i] = p
	}
	return map[string]any{
		"id":           s.ID,
		"name":         s.Name,
		"participants": participants,
		"calls":        s.Calls,
		"failures":     s.Failures,
		"loops":        s.Loops,
		"rendered":     s.Rendered,
		"created_at":   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// EventRecord is one persisted invocation event.
type EventRecord struct {
	TraceID   string           `json:"trace_id"`
	Sequence  int64            `json:"sequence"`
	Kind      tracer.EventKind `json:"kind"`
	Caller    string           `json:"caller"`
	Callee    string           `json:"callee"`
	Detail    string           `json:"detail,omitempty"`
	Count     int              `json:"count,omitempty"`
	Depth     int              `json:"depth"`
	Timestamp time.Time        `json:"timestamp"`
}

// TraceFilter narrows ListTraces.
type TraceFilter struct {
	Name        string
	Participant string
	FailedOnly  bool
	Since       *time.Time
	Limit       int
	Offset      int
}
