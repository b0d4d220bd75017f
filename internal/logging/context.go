package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	participantKey
)

// WithTraceID returns a context with the trace ID set.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// WithParticipant returns a context with the active participant set.
func WithParticipant(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, participantKey, name)
}

// TraceID extracts the trace ID from the context, or "" if absent.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// Participant extracts the active participant from the context, or "" if absent.
func Participant(ctx context.Context) string {
	v, _ := ctx.Value(participantKey).(string)
	return v
}

// WithIDs sets both correlation IDs on the context at once.
func WithIDs(ctx context.Context, traceID, participant string) context.Context {
	ctx = WithTraceID(ctx, traceID)
	ctx = WithParticipant(ctx, participant)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := TraceID(ctx); id != "" {
		logger = logger.With(slog.String("trace_id", id))
	}
	if p := Participant(ctx); p != "" {
		logger = logger.With(slog.String("participant", p))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so traced functions can call
// logger.InfoContext(ctx, ...) and the IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := TraceID(ctx); v != "" {
		r.AddAttrs(slog.String("trace_id", v))
	}
	if v := Participant(ctx); v != "" {
		r.AddAttrs(slog.String("participant", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
