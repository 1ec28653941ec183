package trclog

import (
	"time"
)

// Kind identifies what happened in a single event.
type Kind uint8

const (
	// KindEnter records a call into a traced function.
	KindEnter Kind = iota + 1

	// KindExit records a normal return from a traced function.
	KindExit

	// KindException records a traced function that returned a non-nil error,
	// panicked, or exited its goroutine via runtime.Goexit.
	KindException

	// KindLog records a log call made through a delegating logger.
	KindLog
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindEnter:
		return "ENTER"
	case KindExit:
		return "EXIT"
	case KindException:
		return "EXCEPTION"
	case KindLog:
		return "LOG"
	default:
		return "UNKNOWN"
	}
}

// Terminal returns true for kinds that end a call.
func (k Kind) Terminal() bool {
	return k == KindExit || k == KindException
}

// Field is a named, rendered value.
type Field struct {
	Name  string
	Value string
}

// Event is the immutable record of one occurrence in the lifecycle of a call,
// or of a log call, within a single execution context.
//
// Every value carried by an event is rendered to a bounded-length string when
// the event is created. Events never retain references to program values.
type Event struct {
	Seq     uint64    // assigned by the buffer, per context, starting at 1
	Kind    Kind      // what happened
	Name    string    // function name, empty for KindLog
	Depth   int       // nesting depth within the context, >= 0
	When    time.Time // from time.Now, includes the monotonic reading
	Args    []Field   // KindEnter
	Result  string    // KindExit
	Error   string    // KindException, as "type: message"
	Level   string    // KindLog
	Message string    // KindLog
	Attrs   []Field   // KindLog
	Anomaly bool      // terminal event at an unexpected depth
}

// Arg is an argument to a traced call, before rendering.
type Arg struct {
	Key   string
	Value any
}

// Param returns an Arg with the given key and value. The value is rendered
// immediately when the call is entered.
func Param(key string, value any) Arg {
	return Arg{Key: key, Value: value}
}
