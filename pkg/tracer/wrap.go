package tracer

import "context"

// WrapOption configures a wrapped function.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	names []string
}

// ArgNames renders the wrapped function's arguments as name=value, in
// positional order. Missing names leave the argument positional.
func ArgNames(names ...string) WrapOption {
	return func(c *wrapConfig) { c.names = names }
}

func wrapOpts(opts []WrapOption) wrapConfig {
	var c wrapConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c wrapConfig) args(values ...any) []Arg {
	args := make([]Arg, len(values))
	for i, v := range values {
		args[i].Value = v
		if i < len(c.names) {
			args[i].Name = c.names[i]
		}
	}
	return args
}

// result converts the untyped value Invoke returns back to R. A nil value
// stays the zero R.
func result[R any](v any) R {
	r, _ := v.(R)
	return r
}

// Wrap0 traces a function of no arguments.
func Wrap0[R any](t *Tracer, name string, fn func(context.Context) (R, error), opts ...WrapOption) func(context.Context) (R, error) {
	c := wrapOpts(opts)
	return func(ctx context.Context) (R, error) {
		v, err := t.Invoke(ctx, name, c.args(), func(ctx context.Context) (any, error) {
			return fn(ctx)
		})
		return result[R](v), err
	}
}

// Wrap1 traces a function of one argument.
func Wrap1[A, R any](t *Tracer, name string, fn func(context.Context, A) (R, error), opts ...WrapOption) func(context.Context, A) (R, error) {
	c := wrapOpts(opts)
	return func(ctx context.Context, a A) (R, error) {
		v, err := t.Invoke(ctx, name, c.args(a), func(ctx context.Context) (any, error) {
			return fn(ctx, a)
		})
		return result[R](v), err
	}
}

// Wrap2 traces a function of two arguments.
func Wrap2[A, B, R any](t *Tracer, name string, fn func(context.Context, A, B) (R, error), opts ...WrapOption) func(context.Context, A, B) (R, error) {
	c := wrapOpts(opts)
	return func(ctx context.Context, a A, b B) (R, error) {
		v, err := t.Invoke(ctx, name, c.args(a, b), func(ctx context.Context) (any, error) {
			return fn(ctx, a, b)
		})
		return result[R](v), err
	}
}

// Wrap3 traces a function of three arguments.
func Wrap3[A, B, C, R any](t *Tracer, name string, fn func(context.Context, A, B, C) (R, error), opts ...WrapOption) func(context.Context, A, B, C) (R, error) {
	cfg := wrapOpts(opts)
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		v, err := t.Invoke(ctx, name, cfg.args(a, b, c), func(ctx context.Context) (any, error) {
			return fn(ctx, a, b, c)
		})
		return result[R](v), err
	}
}

// WrapErr0 traces a function of no arguments that returns only an error. Its
// successful return is drawn as "return None".
func WrapErr0(t *Tracer, name string, fn func(context.Context) error, opts ...WrapOption) func(context.Context) error {
	c := wrapOpts(opts)
	return func(ctx context.Context) error {
		_, err := t.Invoke(ctx, name, c.args(), func(ctx context.Context) (any, error) {
			return nil, fn(ctx)
		})
		return err
	}
}

// WrapErr1 traces a function of one argument that returns only an error.
func WrapErr1[A any](t *Tracer, name string, fn func(context.Context, A) error, opts ...WrapOption) func(context.Context, A) error {
	c := wrapOpts(opts)
	return func(ctx context.Context, a A) error {
		_, err := t.Invoke(ctx, name, c.args(a), func(ctx context.Context) (any, error) {
			return nil, fn(ctx, a)
		})
		return err
	}
}

// WrapErr2 traces a function of two arguments that returns only an error.
func WrapErr2[A, B any](t *Tracer, name string, fn func(context.Context, A, B) error, opts ...WrapOption) func(context.Context, A, B) error {
	c := wrapOpts(opts)
	return func(ctx context.Context, a A, b B) error {
		_, err := t.Invoke(ctx, name, c.args(a, b), func(ctx context.Context) (any, error) {
			return nil, fn(ctx, a, b)
		})
		return err
	}
}
