// Package trclog provides in-process execution tracing that dumps into logs.
// It's an alternative to verbose debug logging: rather than writing every call
// to a sink, calls are recorded into a small in-memory buffer, and that buffer
// is rendered into a log record only when something goes wrong.
//
// The basic idea is to wrap interesting functions with a [Tracer]. Each call to
// a wrapped function records an ENTER event, and an EXIT or EXCEPTION event,
// into a fixed-capacity [Buffer] belonging to the calling execution context.
// Execution contexts are identified by an ID carried in a context.Context, and
// are started and released via a [Registry]. Buffers retain only the most
// recent events, and never block on I/O.
//
// The application logs as usual, through a delegating [Handler] wrapped around
// its normal slog.Handler. Records below the dump threshold are forwarded as
// they are. Records at or above the threshold, by default slog.LevelError, are
// forwarded along with a dump: the buffer of the calling execution context,
// rendered as an indented call tree.
//
//	=== trace 01HQ3V8Z7G5ZK3W4E9X2Y1T0RS (4 events, 0 dropped) ===
//	+0s       → ENTER main.divide(a=4, b=2)
//	+4µs      ← EXIT main.divide => 2 [4µs]
//	+9µs      → ENTER main.divide(a=4, b=0)
//	+12µs     ! EXCEPTION main.divide => *errors.errorString: division by zero [3µs]
//	=== end trace ===
//
// Tracing is transparent to the traced program. Wrapped functions receive the
// same arguments, and return the same results and errors, as the originals.
// Panics are recorded, and then continue with the same value. Faults within
// tracing itself are contained, and counted in [DebugStats].
//
// Most applications should not import this package directly, and should instead
// use [github.com/peterbourgon/trclog/eztrclog], which provides an easy-to-use
// API for common use cases. Zap users should see
// [github.com/peterbourgon/trclog/trczap].
package trclog
