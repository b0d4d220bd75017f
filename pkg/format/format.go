// Package format turns arbitrary argument and return values into short strings
// that are safe to embed in a sequence diagram.
//
// Values are classified into a closed set of variants, checked most specific
// first:
//
//	nil                      -> None
//	reflect.Type             -> <Class: name>
//	Tabular                  -> <DataFrame shape=(rows, cols)>
//	Series                   -> <name len=n>
//	string, number, bool     -> literal
//	Path                     -> Path('basename')
//	slice, array, map        -> <type len=n>
//	anything else            -> <type object>
//
// Formatting never panics. A panic raised while inspecting a value (for
// example from a user Dims or Len method) degrades to "<Object type: T>", and
// if even that fails to "<Error: Unformattable Object>".
package format

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/rendis/calltrace/internal/logging"
)

// Unformattable is returned when no representation at all can be produced.
const Unformattable = "<Error: Unformattable Object>"

// Tabular is implemented by two-dimensional, dataframe-like values.
// gota's dataframe.DataFrame and gonum's mat.Matrix both satisfy it.
type Tabular interface {
	Dims() (rows, cols int)
}

// Series is implemented by named one-dimensional sequences.
type Series interface {
	Len() int
	Name() string
}

// Path tags a string as a filesystem path. Only the last path element is
// rendered so full local paths never leak into diagrams.
type Path string

// typeName is swapped in tests to exercise the last-resort fallback.
var typeName = func(v any) string { return fmt.Sprintf("%T", v) }

// Formatter renders values. The zero value is ready to use.
type Formatter struct {
	logger *slog.Logger
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithLogger records recovered formatting panics at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(f *Formatter) { f.logger = l }
}

// New creates a Formatter.
func New(opts ...Option) *Formatter {
	f := &Formatter{}
	for _, o := range opts {
		o(f)
	}
	return f
}

var defaultFormatter = New(WithLogger(logging.Discard()))

// Format renders v with the package default formatter.
func Format(v any) string {
	return defaultFormatter.Format(v)
}

// Format renders v. It never panics and never returns an empty string.
func (f *Formatter) Format(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			f.debug("formatting value panicked", slog.String("panic", fmt.Sprint(r)))
			out = f.fallback(v)
		}
	}()
	return classify(v)
}

func (f *Formatter) fallback(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			f.debug("formatting type name panicked", slog.String("panic", fmt.Sprint(r)))
			out = Unformattable
		}
	}()
	return "<Object type: " + typeName(v) + ">"
}

func (f *Formatter) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func classify(v any) string {
	if v == nil {
		return "None"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		if rv.IsNil() {
			return "None"
		}
	}

	if t, ok := v.(reflect.Type); ok {
		name := t.Name()
		if name == "" {
			name = t.String()
		}
		return "<Class: " + name + ">"
	}

	switch val := v.(type) {
	case Tabular:
		rows, cols := val.Dims()
		return fmt.Sprintf("<DataFrame shape=(%d, %d)>", rows, cols)
	case Series:
		name := val.Name()
		if name == "" {
			name = "Series"
		}
		return fmt.Sprintf("<%s len=%d>", name, val.Len())
	case Path:
		return "Path('" + filepath.Base(string(val)) + "')"
	}

	switch rv.Kind() {
	case reflect.String:
		return strconv.Quote(rv.String())
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(rv.Complex())
	case reflect.Slice, reflect.Array, reflect.Map:
		return fmt.Sprintf("<%s len=%d>", rv.Type().String(), rv.Len())
	}
	return "<" + rv.Type().String() + " object>"
}
