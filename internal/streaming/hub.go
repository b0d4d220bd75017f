package streaming

import "context"

// Event types published for traced invocations.
const (
	EventCall   = "trace.call"
	EventRepeat = "trace.repeat"
	EventReturn = "trace.return"
	EventRaise  = "trace.raise"
)

// StreamEvent is a real-time event emitted while a trace is being recorded.
type StreamEvent struct {
	TraceID   string `json:"trace_id"`
	EventType string `json:"event_type"`
	Caller    string `json:"caller,omitempty"`
	Callee    string `json:"callee,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Count     int    `json:"count,omitempty"`
	Depth     int    `json:"depth"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	TraceID    string   `json:"trace_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	Callee     string   `json:"callee,omitempty"`
}

// EventHub provides pub/sub for real-time trace events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
