package tracer

import (
	"context"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
)

// FallbackCaller names callers whose identity cannot be resolved.
const FallbackCaller = "User"

// scope is the "current caller" threaded through the context of a traced
// function, so nested traced calls know who invoked them without walking the
// stack.
type scope struct {
	tracer *Tracer
	caller string
	frame  *frame
	depth  int
}

type scopeKey struct{}

func withScope(ctx context.Context, sc scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, sc)
}

// CurrentCaller returns the name of the traced function whose context ctx is,
// or "" outside any traced call.
func CurrentCaller(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc, _ := ctx.Value(scopeKey{}).(scope)
	return sc.caller
}

// resolve determines who is calling. A context issued by this tracer wins. A
// context issued by another tracer still names the caller but starts at this
// tracer's top level. Otherwise the nearest stack frame outside this package
// is inspected.
func (t *Tracer) resolve(ctx context.Context) scope {
	if sc, ok := ctx.Value(scopeKey{}).(scope); ok {
		if sc.tracer == t {
			return sc
		}
		return scope{tracer: t, caller: sc.caller, frame: t.root}
	}
	return scope{tracer: t, caller: callerIdentity(), frame: t.root}
}

var pkgPrefix = reflect.TypeOf((*Tracer)(nil)).Elem().PkgPath() + "."

func callerIdentity() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return FallbackCaller
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if !strings.HasPrefix(fr.Function, pkgPrefix) {
			return identityOf(fr.Function, fr.File)
		}
		if !more {
			return FallbackCaller
		}
	}
}

// identityOf maps a runtime function to a participant name. Package
// initialisation code is the Go analogue of module-level code and is named
// after its file.
func identityOf(function, file string) string {
	if function == "" {
		return FallbackCaller
	}
	name := shortFuncName(function)
	if name == "init" || strings.HasPrefix(name, "init.") {
		if file == "" {
			return FallbackCaller
		}
		return "[Module: " + filepath.Base(file) + "]"
	}
	return name
}

// shortFuncName drops the import path and package qualifier:
// "github.com/a/b.(*T).Run" becomes "(*T).Run".
func shortFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
