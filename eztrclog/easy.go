// Package eztrclog provides an easy-to-use, process-scoped default registry,
// tracer, and logger.
//
// The defaults are initialized lazily on first use, or explicitly via Init,
// and torn down via Shutdown. Programs that want more control should construct
// their own registry, tracer, and handler.
package eztrclog

import (
	"context"
	"log/slog"
	"os"

	"github.com/peterbourgon/trclog"
	"github.com/peterbourgon/trclog/internal/trcutil"
)

// Config defines the configuration parameters for the defaults.
type Config struct {
	// Registry configures the default registry.
	Registry trclog.RegistryConfig

	// Tracer configures the default tracer.
	Tracer trclog.TracerConfig

	// Handler configures the default logger's delegating handler.
	Handler trclog.HandlerConfig

	// Next is the handler that receives every record from the default logger.
	// Optional. By default, records are written to stderr by a text handler.
	Next slog.Handler
}

// Instance is a registry, along with a tracer and a logger using it.
type Instance struct {
	Registry *trclog.Registry
	Tracer   *trclog.Tracer
	Logger   *slog.Logger
}

// New returns an instance based on the provided config. It doesn't affect the
// process-scoped defaults.
func New(cfg Config) *Instance {
	next := cfg.Next
	if next == nil {
		next = slog.NewTextHandler(os.Stderr, nil)
	}

	reg := trclog.NewRegistry(cfg.Registry)
	return &Instance{
		Registry: reg,
		Tracer:   trclog.NewTracer(reg, cfg.Tracer),
		Logger:   trclog.NewLogger(next, reg, cfg.Handler),
	}
}

var current trcutil.Atomic[*Instance]

func get() *Instance {
	return current.GetOrInit(func() *Instance { return New(Config{}) })
}

// Init replaces the defaults with a new instance based on the provided config,
// and returns it. Any previous defaults are shut down.
func Init(cfg Config) *Instance {
	inst := New(cfg)
	if prev := current.Swap(inst); prev != nil {
		prev.Registry.Close()
	}
	return inst
}

// Shutdown closes the default registry, and clears the defaults. Subsequent
// use of the package initializes new defaults.
func Shutdown() {
	if prev := current.Reset(); prev != nil {
		prev.Registry.Close()
	}
}

// Registry returns the default registry.
func Registry() *trclog.Registry { return get().Registry }

// Tracer returns the default tracer.
func Tracer() *trclog.Tracer { return get().Tracer }

// Logger returns the default logger.
func Logger() *slog.Logger { return get().Logger }

// Begin starts a new execution context in the default registry.
func Begin(ctx context.Context) (context.Context, func()) {
	return get().Registry.Begin(ctx)
}

// Do calls fn as a traced call via the default tracer.
func Do(ctx context.Context, name string, fn func(context.Context) error, args ...trclog.Arg) error {
	return get().Tracer.Do(ctx, name, fn, args...)
}

// Call calls fn as a traced call via the default tracer.
func Call[R any](ctx context.Context, name string, fn func(context.Context) (R, error), args ...trclog.Arg) (R, error) {
	return trclog.Call(ctx, get().Tracer, name, fn, args...)
}

// Wrap returns fn wrapped by the default tracer, as of the time of the call.
func Wrap[F any](name string, fn F, params ...string) F {
	return trclog.Wrap(get().Tracer, name, fn, params...)
}

// Dump returns the rendered trace of the execution context of ctx. Dump never
// creates a buffer: a context that's been released, or that hasn't recorded
// anything yet, renders as an empty trace.
func Dump(ctx context.Context) string {
	reg := get().Registry

	id, ok := trclog.ContextID(ctx)
	if !ok {
		return trclog.Format(reg.Fallback().Snapshot())
	}

	buf, ok := reg.Lookup(id)
	if !ok {
		return trclog.Format(trclog.Snapshot{ContextID: id})
	}

	return trclog.Format(buf.Snapshot())
}
