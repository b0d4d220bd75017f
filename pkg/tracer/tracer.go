// Package tracer records traced function calls as a PlantUML sequence diagram.
//
// A Tracer is constructed explicitly and handed to the wrap combinators
// (Wrap0..Wrap3, WrapErr0..WrapErr2) or called directly through Invoke. Every
// traced function receives a context.Context; the tracer stores the active
// callee in that context so nested traced calls know their caller.
//
// Consecutive calls with the same (caller, callee) identity are buffered as a
// pending group. When a different call arrives, or the diagram is requested,
// the group is flushed: below the loop threshold its statements are repeated
// once per call, at or above it they are emitted once inside a
// "loop N times" block.
//
// Nested traced calls must be made with the ctx the enclosing traced function
// received. A nested call made with a fresh context (context.Background())
// falls back to resolving its caller from the stack and is recorded at the
// top level, ahead of the enclosing call.
//
// Concurrency: state is mutex-guarded, but statement order is only meaningful
// for a single logical thread of control. Use one Tracer per logical trace.
package tracer

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rendis/calltrace/internal/logging"
	"github.com/rendis/calltrace/pkg/format"
)

const (
	// DefaultLoopThreshold is the smallest run of identical consecutive calls
	// that is collapsed into a loop block.
	DefaultLoopThreshold = 3

	// MaxSignatureLen bounds the rendered argument list, in characters.
	MaxSignatureLen = 100
)

// Tracer owns the participants, statements and pending call groups of one
// trace.
type Tracer struct {
	id        string
	name      string
	threshold int
	logger    *slog.Logger
	formatter *format.Formatter
	observers []Observer
	now       func() time.Time

	mu           sync.Mutex
	participants []string
	seen         map[string]struct{}
	root         *frame
	calls        int
	failures     int
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithName sets a human-readable trace name.
func WithName(name string) Option {
	return func(t *Tracer) { t.name = name }
}

// WithID overrides the generated trace ID.
func WithID(id string) Option {
	return func(t *Tracer) {
		if id != "" {
			t.id = id
		}
	}
}

// WithLoopThreshold sets the loop threshold. Values below 1 are ignored.
func WithLoopThreshold(n int) Option {
	return func(t *Tracer) {
		if n >= 1 {
			t.threshold = n
		}
	}
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithFormatter replaces the value formatter.
func WithFormatter(f *format.Formatter) Option {
	return func(t *Tracer) {
		if f != nil {
			t.formatter = f
		}
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(t *Tracer) {
		if o != nil {
			t.observers = append(t.observers, o)
		}
	}
}

// New creates a Tracer with a fresh trace ID.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		id:        uuid.NewString(),
		threshold: DefaultLoopThreshold,
		logger:    logging.Discard(),
		now:       time.Now,
		seen:      make(map[string]struct{}),
		root:      &frame{},
	}
	for _, o := range opts {
		o(t)
	}
	if t.formatter == nil {
		t.formatter = format.New(format.WithLogger(t.logger))
	}
	return t
}

// ID returns the trace ID.
func (t *Tracer) ID() string { return t.id }

// Name returns the trace name.
func (t *Tracer) Name() string { return t.name }

// LoopThreshold returns the configured loop threshold.
func (t *Tracer) LoopThreshold() int { return t.threshold }

// Arg is one argument of a traced call. Name is empty for positional
// arguments and rendered as key=value otherwise.
type Arg struct {
	Name  string
	Value any
}

// frame collects the statements emitted at one call level, plus that level's
// pending group. Frames of repeated invocations discard what they collect.
type frame struct {
	lines   []Statement
	pending *group
	discard bool
}

// group is a run of consecutive calls sharing a (caller, callee) identity,
// represented by the statements of its first occurrence.
type group struct {
	caller string
	callee string
	lines  []Statement
	count  int
}

func (f *frame) flush(threshold int) {
	g := f.pending
	if g == nil {
		return
	}
	f.pending = nil
	if f.discard {
		return
	}
	if g.count >= threshold {
		f.lines = append(f.lines, Statement{Kind: KindLoop, Count: g.count})
		f.lines = append(f.lines, g.lines...)
		f.lines = append(f.lines, Statement{Kind: KindEnd})
		return
	}
	for i := 0; i < g.count; i++ {
		f.lines = append(f.lines, g.lines...)
	}
}

// register adds a participant the first time it is seen. Callers hold t.mu.
func (t *Tracer) register(name string) {
	if _, ok := t.seen[name]; ok {
		return
	}
	t.seen[name] = struct{}{}
	t.participants = append(t.participants, name)
}

// Invoke traces one call of fn under the given callee name. The result and
// error of fn are returned unchanged, and a panic in fn is recorded and then
// re-raised with the same value.
func (t *Tracer) Invoke(ctx context.Context, name string, args []Arg, fn func(context.Context) (any, error)) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return t.invoke(ctx, t.resolve(ctx), name, args, fn)
}

// outcome is what running a traced function produced.
type outcome struct {
	result   any
	err      error
	panicked bool
	panicVal any
}

func (o outcome) failed() bool { return o.panicked || o.err != nil }

// panicKind is the failure kind recorded for a panicking traced function.
const panicKind = "panic"

func (t *Tracer) invoke(ctx context.Context, sc scope, callee string, args []Arg, fn func(context.Context) (any, error)) (any, error) {
	caller, parent := sc.caller, sc.frame

	t.mu.Lock()
	t.register(caller)
	t.register(callee)
	t.calls++
	if g := parent.pending; g != nil && g.caller == caller && g.callee == callee {
		g.count++
		count := g.count
		t.mu.Unlock()
		return t.repeat(ctx, sc, callee, count, fn)
	}
	parent.flush(t.threshold)
	t.mu.Unlock()

	message := callee + "(" + t.signature(args) + ")"
	t.logger.DebugContext(ctx, "traced call",
		slog.String("trace_id", t.id), slog.String("caller", caller), slog.String("callee", callee))
	t.notify(ctx, Event{Kind: EventCall, Caller: caller, Callee: callee, Detail: message, Depth: sc.depth})

	child := &frame{}
	out := t.execute(ctx, callee, child, sc.depth+1, fn)

	var exit Statement
	var ev Event
	if out.failed() {
		kind := panicKind
		if !out.panicked {
			kind = failureKind(out.err)
		}
		exit = Statement{Kind: KindRaise, From: callee, To: caller, Text: kind}
		ev = Event{Kind: EventRaise, Caller: caller, Callee: callee, Detail: kind, Depth: sc.depth}
		t.logger.DebugContext(ctx, "traced call failed",
			slog.String("trace_id", t.id), slog.String("callee", callee), slog.String("kind", kind))
	} else {
		value := t.formatter.Format(out.result)
		exit = Statement{Kind: KindReturn, From: callee, To: caller, Text: value}
		ev = Event{Kind: EventReturn, Caller: caller, Callee: callee, Detail: value, Depth: sc.depth}
	}

	t.mu.Lock()
	child.flush(t.threshold)
	lines := make([]Statement, 0, len(child.lines)+4)
	lines = append(lines,
		Statement{Kind: KindCall, From: caller, To: callee, Text: message},
		Statement{Kind: KindActivate, To: callee},
	)
	lines = append(lines, child.lines...)
	lines = append(lines, exit, Statement{Kind: KindDeactivate, To: callee})
	parent.flush(t.threshold)
	parent.pending = &group{caller: caller, callee: callee, lines: lines, count: 1}
	if out.failed() {
		t.failures++
	}
	t.mu.Unlock()

	t.notify(ctx, ev)
	if out.panicked {
		panic(out.panicVal)
	}
	return out.result, out.err
}

// repeat runs another occurrence of the pending group. Nested traced calls
// still execute and register participants, but their statements are dropped
// because the group's first occurrence stands in for every repeat.
func (t *Tracer) repeat(ctx context.Context, sc scope, callee string, count int, fn func(context.Context) (any, error)) (any, error) {
	t.logger.DebugContext(ctx, "repeated call",
		slog.String("trace_id", t.id), slog.String("caller", sc.caller), slog.String("callee", callee), slog.Int("count", count))
	t.notify(ctx, Event{Kind: EventRepeat, Caller: sc.caller, Callee: callee, Count: count, Depth: sc.depth})

	out := t.execute(ctx, callee, &frame{discard: true}, sc.depth+1, fn)
	if out.failed() {
		kind := panicKind
		if !out.panicked {
			kind = failureKind(out.err)
		}
		t.mu.Lock()
		t.failures++
		t.mu.Unlock()
		t.notify(ctx, Event{Kind: EventRaise, Caller: sc.caller, Callee: callee, Detail: kind, Count: count, Depth: sc.depth})
	} else if len(t.observers) > 0 {
		t.notify(ctx, Event{Kind: EventReturn, Caller: sc.caller, Callee: callee, Detail: t.formatter.Format(out.result), Count: count, Depth: sc.depth})
	}

	if out.panicked {
		panic(out.panicVal)
	}
	return out.result, out.err
}

func (t *Tracer) execute(ctx context.Context, callee string, child *frame, depth int, fn func(context.Context) (any, error)) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.panicked = true
			out.panicVal = r
		}
	}()
	inner := withScope(ctx, scope{tracer: t, caller: callee, frame: child, depth: depth})
	inner = logging.WithIDs(inner, t.id, callee)
	out.result, out.err = fn(inner)
	return out
}

// signature formats the argument list, truncated to MaxSignatureLen characters.
func (t *Tracer) signature(args []Arg) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		v := t.formatter.Format(a.Value)
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		parts = append(parts, v)
	}
	sig := strings.Join(parts, ", ")
	if utf8.RuneCountInString(sig) > MaxSignatureLen {
		sig = string([]rune(sig)[:MaxSignatureLen]) + "..."
	}
	return sig
}

func (t *Tracer) notify(ctx context.Context, ev Event) {
	if len(t.observers) == 0 {
		return
	}
	ev.TraceID = t.id
	ev.Time = t.now()
	for _, o := range t.observers {
		o.OnEvent(ctx, ev)
	}
}

// Snapshot flushes the top-level pending group and returns a copy of the
// diagram state. Calls made after the snapshot do not affect it.
func (t *Tracer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root.flush(t.threshold)
	return Snapshot{
		ID:           t.id,
		Name:         t.name,
		Participants: slices.Clone(t.participants),
		Statements:   slices.Clone(t.root.lines),
	}
}

// Diagram returns the complete PlantUML text. Calling it twice with no traced
// calls in between yields identical text.
func (t *Tracer) Diagram() string {
	return t.Snapshot().PlantUML()
}

// Stats summarises a trace.
type Stats struct {
	Calls        int `json:"calls"`
	Failures     int `json:"failures"`
	Participants int `json:"participants"`
	Loops        int `json:"loops"`
}

// Stats returns call and failure counters, including repeats that were folded
// into loop blocks. Like Diagram it flushes the top-level pending group.
func (t *Tracer) Stats() Stats {
	snap := t.Snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Calls:        t.calls,
		Failures:     t.failures,
		Participants: len(snap.Participants),
		Loops:        snap.Loops(),
	}
}

// failureKind names an error by its dynamic type with the pointer and package
// qualifier dropped, e.g. *fs.PathError becomes "PathError". Errors wrapped by
// fmt.Errorf are named after what they wrap, the first operand when there
// are several %w verbs; plain errors.New values are
// named "error".
func failureKind(err error) string {
	for {
		rt := reflect.TypeOf(err)
		for rt.Kind() == reflect.Pointer {
			rt = rt.Elem()
		}
		if rt.PkgPath() == "fmt" {
			if inner := errors.Unwrap(err); inner != nil {
				err = inner
				continue
			}
			if multi, ok := err.(interface{ Unwrap() []error }); ok {
				if inner := firstError(multi.Unwrap()); inner != nil {
					err = inner
					continue
				}
			}
		}
		if rt.PkgPath() == "errors" || rt.Name() == "" {
			return "error"
		}
		return rt.Name()
	}
}

func firstError(errs []error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
