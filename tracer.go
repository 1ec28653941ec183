package trclog

import (
	"context"
	"strconv"
	"strings"
)

// TracerConfig defines the configuration parameters for a tracer.
type TracerConfig struct {
	// ArgumentRenderLimit is the maximum length in bytes of each rendered
	// argument and return value. Longer renderings are truncated, with an
	// explicit marker. Optional. By default, the limit is 200. The minimum is
	// 8, and the maximum is 65536.
	ArgumentRenderLimit int

	// CaptureReturn determines whether return values are rendered into exit
	// events. Optional. By default, return values are captured.
	CaptureReturn *bool

	// MaxArgs is the maximum number of arguments rendered for each call.
	// Additional arguments are counted but not rendered. Optional. By default,
	// the max is 32.
	MaxArgs int
}

const (
	maxArgsMin = 1
	maxArgsDef = 32
	maxArgsMax = 1024
)

// Tracer records the calls that it wraps into the buffer of the calling
// execution context, as resolved by its registry.
//
// A nil *Tracer is valid, and records nothing: wrapped functions are called
// directly, exactly as if they weren't traced.
type Tracer struct {
	reg           *Registry
	limit         int
	captureReturn bool
	maxArgs       int
}

// NewTracer returns a tracer that records into the given registry. If the
// registry is nil, a new default registry is used.
func NewTracer(reg *Registry, cfg TracerConfig) *Tracer {
	if reg == nil {
		reg = NewDefaultRegistry()
	}

	captureReturn := true
	if cfg.CaptureReturn != nil {
		captureReturn = *cfg.CaptureReturn
	}

	maxArgs := cfg.MaxArgs
	switch {
	case maxArgs <= 0:
		maxArgs = maxArgsDef
	case maxArgs < maxArgsMin:
		maxArgs = maxArgsMin
	case maxArgs > maxArgsMax:
		maxArgs = maxArgsMax
	}

	return &Tracer{
		reg:           reg,
		limit:         clampRenderLimit(cfg.ArgumentRenderLimit),
		captureReturn: captureReturn,
		maxArgs:       maxArgs,
	}
}

// Registry returns the registry used by the tracer.
func (t *Tracer) Registry() *Registry {
	if t == nil {
		return nil
	}
	return t.reg
}

// Enter records an ENTER event for the named call in the buffer of the
// execution context of ctx, and returns a frame which must be terminated by
// exactly one call to Exit, Fail, or Panic. Arguments are rendered
// immediately.
//
// Most callers should use Wrap, Do, or Call, which manage frames correctly in
// the presence of panics.
func (t *Tracer) Enter(ctx context.Context, name string, args ...Arg) *Frame {
	if t == nil || t.reg == nil {
		return nil
	}

	buf := t.reg.Current(ctx)
	depth := buf.enter(Event{
		Name: name,
		Args: t.renderArgs(args),
	})

	return &Frame{
		t:     t,
		buf:   buf,
		name:  name,
		depth: depth,
	}
}

func (t *Tracer) renderArgs(args []Arg) []Field {
	if len(args) <= 0 {
		return nil
	}

	n := len(args)
	if n > t.maxArgs {
		n = t.maxArgs
	}

	fields := make([]Field, 0, n+1)
	for _, a := range args[:n] {
		fields = append(fields, Field{Name: a.Key, Value: render(a.Value, t.limit)})
	}
	if extra := len(args) - n; extra > 0 {
		fields = append(fields, Field{Name: "…", Value: strconv.Itoa(extra) + " more"})
	}

	return fields
}

func (t *Tracer) renderResults(results []any) string {
	if !t.captureReturn || len(results) <= 0 {
		return ""
	}

	if len(results) == 1 {
		return render(results[0], t.limit)
	}

	strs := make([]string, len(results))
	for i := range results {
		strs[i] = render(results[i], t.limit)
	}
	return strings.Join(strs, ", ")
}

//
//
//

// Frame represents a single traced call, from its ENTER event until its
// terminal event. Only the first terminal method called on a frame has any
// effect. A nil *Frame is valid, and records nothing.
//
// Frames aren't safe for concurrent use.
type Frame struct {
	t     *Tracer
	buf   *Buffer
	name  string
	depth int
	done  bool
}

// Depth returns the depth at which the frame was entered.
func (f *Frame) Depth() int {
	if f == nil {
		return 0
	}
	return f.depth
}

// Exit records a normal return with the given results.
func (f *Frame) Exit(results ...any) {
	if f == nil || f.done {
		return
	}
	f.done = true

	f.buf.leave(Event{
		Kind:   KindExit,
		Name:   f.name,
		Result: f.t.renderResults(results),
	}, f.depth)
}

// Fail records an error return. A nil error is recorded as a normal return.
func (f *Frame) Fail(err error) {
	if err == nil {
		f.Exit()
		return
	}
	if f == nil || f.done {
		return
	}
	f.done = true

	f.buf.leave(Event{
		Kind:  KindException,
		Name:  f.name,
		Error: renderError(err, f.t.limit),
	}, f.depth)
}

// Panic records a panic with the given recovered value. A nil value records
// that the goroutine is exiting via runtime.Goexit.
func (f *Frame) Panic(v any) {
	if f == nil || f.done {
		return
	}
	f.done = true

	f.buf.leave(Event{
		Kind:  KindException,
		Name:  f.name,
		Error: renderPanic(v, f.t.limit),
	}, f.depth)
}

//
//
//

// Do calls fn as a traced call with the given name and arguments. The error
// returned by fn is returned unchanged. If fn panics, the panic is recorded
// and then continues with the same value.
func (t *Tracer) Do(ctx context.Context, name string, fn func(context.Context) error, args ...Arg) error {
	if t == nil {
		return fn(ctx)
	}

	f := t.Enter(ctx, name, args...)

	returned := false
	defer func() {
		if returned {
			return
		}
		x := recover()
		f.Panic(x)
		if x != nil {
			panic(x)
		}
	}()

	err := fn(ctx)
	returned = true

	if err != nil {
		f.Fail(err)
	} else {
		f.Exit()
	}

	return err
}

// Call is like Tracer.Do, for functions that return a value as well as an
// error. A nil error records the value as the call's result.
func Call[R any](ctx context.Context, t *Tracer, name string, fn func(context.Context) (R, error), args ...Arg) (R, error) {
	if t == nil {
		return fn(ctx)
	}

	f := t.Enter(ctx, name, args...)

	returned := false
	defer func() {
		if returned {
			return
		}
		x := recover()
		f.Panic(x)
		if x != nil {
			panic(x)
		}
	}()

	res, err := fn(ctx)
	returned = true

	if err != nil {
		f.Fail(err)
	} else {
		f.Exit(res)
	}

	return res, err
}
