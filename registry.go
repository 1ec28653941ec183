package trclog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/trclog/internal/trcdebug"
)

// RegistryConfig defines the configuration parameters for a registry.
type RegistryConfig struct {
	// Capacity is the maximum number of events retained by each per-context
	// buffer. Optional. By default, the capacity is 512. The minimum is 1,
	// and the maximum is 65536.
	Capacity int
}

const (
	capacityMin = 1
	capacityDef = 512
	capacityMax = 65536
)

func clampCapacity(n int) int {
	switch {
	case n <= 0:
		return capacityDef
	case n < capacityMin:
		return capacityMin
	case n > capacityMax:
		return capacityMax
	default:
		return n
	}
}

// FallbackID is the context ID of the buffer used by callers that aren't
// within any execution context started by a registry.
const FallbackID = "(orphan)"

// Registry maps execution contexts to their buffers. Each execution context
// is identified by an ID carried in a context.Context, typically installed by
// Begin. Buffers are created lazily, on the first event in a context, and
// removed when the context is released or swept.
//
// Registries are safe for concurrent use. Resolving the buffer of a context
// that already has one takes no registry-wide lock; only creating and removing
// buffers touch shared state. Programs usually create one registry at startup,
// pass it to tracers and delegating loggers, and Close it at shutdown. Tests
// can create as many isolated registries as they like.
type Registry struct {
	capacity atomic.Int64
	buffers  sync.Map // context ID to *Buffer
	live     atomic.Int64
	fallback *Buffer
	closed   atomic.Bool
}

// NewRegistry returns an empty registry based on the provided config.
func NewRegistry(cfg RegistryConfig) *Registry {
	capacity := clampCapacity(cfg.Capacity)
	r := &Registry{
		fallback: NewBuffer(FallbackID, capacity),
	}
	r.capacity.Store(int64(capacity))
	return r
}

// NewDefaultRegistry is a convenience function that calls NewRegistry with a
// zero value config, returning a registry with a default configuration.
func NewDefaultRegistry() *Registry {
	return NewRegistry(RegistryConfig{})
}

// Begin starts a new execution context, and returns a derived context carrying
// its ID, along with a release function that must be called when the context
// ends. If the provided context already belongs to an execution context, the
// new one shadows it, and the two record events independently.
//
// Goroutines should begin their own execution context, rather than sharing the
// context of their parent, so that their call depths remain independent.
func (r *Registry) Begin(ctx context.Context) (context.Context, func()) {
	id := ulid.MustNew(ulid.Now(), contextIDEntropy).String()
	trcdebug.Contexts.Created.Add(1)

	var once sync.Once
	release := func() { once.Do(func() { r.Release(id) }) }

	return WithContextID(ctx, id), release
}

// Current returns the buffer for the execution context of ctx, creating it if
// necessary. If ctx doesn't carry a context ID, or if the registry has been
// closed, the shared fallback buffer is returned. Current never fails.
func (r *Registry) Current(ctx context.Context) *Buffer {
	id, ok := ContextID(ctx)
	if !ok {
		trcdebug.Faults.Orphans.Add(1)
		return r.fallback
	}

	if r.closed.Load() {
		return r.fallback
	}

	if v, ok := r.buffers.Load(id); ok {
		return v.(*Buffer)
	}

	v, loaded := r.buffers.LoadOrStore(id, NewBuffer(id, int(r.capacity.Load())))
	b := v.(*Buffer)
	if !loaded {
		r.live.Add(1)
		if r.closed.Load() { // lost a race with Close
			r.remove(id, b)
			return r.fallback
		}
	}

	return b
}

// Lookup returns the buffer for the given context ID, if it exists. Unlike
// Current, Lookup never creates a buffer.
func (r *Registry) Lookup(id string) (*Buffer, bool) {
	if id == FallbackID {
		return r.fallback, true
	}

	v, ok := r.buffers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Buffer), true
}

// Fallback returns the buffer used for events outside of any execution
// context.
func (r *Registry) Fallback() *Buffer {
	return r.fallback
}

// Release removes the buffer for the given context ID, if it exists.
func (r *Registry) Release(id string) {
	if _, ok := r.buffers.LoadAndDelete(id); ok {
		r.live.Add(-1)
		trcdebug.Contexts.Released.Add(1)
	}
}

// remove deletes the buffer for id, but only if it's still b.
func (r *Registry) remove(id string, b *Buffer) bool {
	if r.buffers.CompareAndDelete(id, b) {
		r.live.Add(-1)
		return true
	}
	return false
}

// Len returns the number of live buffers, not counting the fallback buffer.
func (r *Registry) Len() int {
	return int(r.live.Load())
}

// Resize changes the capacity of every buffer in the registry, including the
// fallback buffer, as well as the capacity of buffers created in the future.
func (r *Registry) Resize(capacity int) {
	capacity = clampCapacity(capacity)
	r.capacity.Store(int64(capacity))

	r.buffers.Range(func(_, v any) bool {
		v.(*Buffer).Resize(capacity)
		return true
	})
	r.fallback.Resize(capacity)
}

// Sweep removes every buffer which hasn't received an event within the idle
// duration, and returns the number of buffers removed. Sweep reclaims the
// buffers of execution contexts that ended without being released. Each
// buffer is locked only for as long as it takes to read its last activity, so
// tracing in other contexts continues during a sweep.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	var n int
	r.buffers.Range(func(k, v any) bool {
		b := v.(*Buffer)
		if b.lastActive().Before(cutoff) && r.remove(k.(string), b) {
			n++
		}
		return true
	})

	trcdebug.Contexts.Swept.Add(uint64(n))
	return n
}

// Janitor calls Sweep with the idle duration at every interval, until the
// context is canceled. It returns the context error. If interval is zero or
// negative, it defaults to half of idle.
func (r *Registry) Janitor(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 {
		interval = idle / 2
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(idle)
		}
	}
}

// Close removes all buffers. After Close, every call to Current returns the
// fallback buffer. Close is idempotent.
func (r *Registry) Close() {
	r.closed.Store(true)

	r.buffers.Range(func(k, v any) bool {
		r.remove(k.(string), v.(*Buffer))
		return true
	})
}

//
//
//

var contextIDEntropy = ulid.DefaultEntropy()

type contextIDKey struct{}

var contextIDVal contextIDKey

// WithContextID returns a derived context that belongs to the execution
// context with the given ID. This is useful when the host program already has
// a meaningful identity for its units of work, like a request ID. Callers are
// responsible for releasing the ID from the registry when the work is done.
func WithContextID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextIDVal, id)
}

// ContextID returns the ID of the execution context that ctx belongs to, if
// any.
func ContextID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextIDVal).(string)
	return id, ok && id != ""
}
