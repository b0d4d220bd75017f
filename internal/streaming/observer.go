package streaming

import (
	"context"

	"github.com/rendis/calltrace/pkg/tracer"
)

// Observer publishes tracer events to hub. Publishing never blocks the traced
// call; a cancelled context or a full subscriber simply loses the event.
func Observer(hub EventHub) tracer.Observer {
	return tracer.ObserverFunc(func(ctx context.Context, ev tracer.Event) {
		_ = hub.Publish(ctx, FromTracerEvent(ev))
	})
}

// FromTracerEvent converts a tracer event into its stream form.
func FromTracerEvent(ev tracer.Event) StreamEvent {
	return StreamEvent{
		TraceID:   ev.TraceID,
		EventType: eventType(ev.Kind),
		Caller:    ev.Caller,
		Callee:    ev.Callee,
		Detail:    ev.Detail,
		Count:     ev.Count,
		Depth:     ev.Depth,
	}
}

func eventType(k tracer.EventKind) string {
	switch k {
	case tracer.EventCall:
		return EventCall
	case tracer.EventRepeat:
		return EventRepeat
	case tracer.EventReturn:
		return EventReturn
	case tracer.EventRaise:
		return EventRaise
	}
	return "trace." + string(k)
}
