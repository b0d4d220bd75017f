package tracer

import (
	"context"
	"time"
)

// EventKind identifies a point in the life of a traced invocation.
type EventKind string

const (
	EventCall   EventKind = "call"
	EventRepeat EventKind = "repeat"
	EventReturn EventKind = "return"
	EventRaise  EventKind = "raise"
)

// Event is delivered to observers for every traced invocation, including
// repeats that leave no trace in the diagram.
type Event struct {
	TraceID string    `json:"trace_id"`
	Kind    EventKind `json:"kind"`
	Caller  string    `json:"caller"`
	Callee  string    `json:"callee"`
	Detail  string    `json:"detail,omitempty"`
	Count   int       `json:"count,omitempty"`
	Depth   int       `json:"depth"`
	Time    time.Time `json:"time"`
}

// Observer receives events synchronously on the goroutine running the traced
// call. Implementations must not block.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }
