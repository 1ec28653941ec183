package trclog

import (
	"sort"
	"sync"
	"time"

	"github.com/peterbourgon/trclog/internal/trcdebug"
	"github.com/peterbourgon/trclog/internal/trcringbuf"
)

// Buffer is the fixed-capacity event history of a single execution context.
// When the buffer is full, each new event overwrites the oldest one.
//
// A buffer is normally written by the one goroutine that owns its context, so
// its mutex is uncontended. The mutex exists because contexts may be shared
// across goroutines, and because snapshots must never observe a half-written
// event.
type Buffer struct {
	id    string
	start time.Time

	mtx     sync.Mutex
	ring    *trcringbuf.RingBuffer[Event]
	seq     uint64
	depth   int
	dropped uint64
	last    time.Time
}

// NewBuffer returns an empty buffer for the given context ID, which retains at
// most capacity events. The capacity is clamped to the same limits as
// RegistryConfig.Capacity.
func NewBuffer(id string, capacity int) *Buffer {
	now := time.Now()
	return &Buffer{
		id:    id,
		start: now,
		ring:  trcringbuf.NewRingBuffer[Event](clampCapacity(capacity)),
		last:  now,
	}
}

// ID returns the ID of the execution context that owns the buffer.
func (b *Buffer) ID() string {
	return b.id // immutable
}

// Start returns the time the buffer was created, which is the reference point
// for elapsed times in reports.
func (b *Buffer) Start() time.Time {
	return b.start // immutable
}

// Append adds the event to the buffer, assigning and returning its sequence
// number. If the event has no timestamp, the current time is used. Append
// never blocks on I/O and never fails; a full buffer discards its oldest event.
func (b *Buffer) Append(ev Event) uint64 {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.appendLocked(ev)
}

func (b *Buffer) appendLocked(ev Event) uint64 {
	if ev.When.IsZero() {
		ev.When = time.Now()
	}

	b.seq++
	ev.Seq = b.seq
	b.last = ev.When

	if _, dropped := b.ring.Add(ev); dropped {
		b.dropped++
	}

	return ev.Seq
}

// enter records an ENTER event at the current depth, and descends one level.
// It returns the depth of the new frame.
func (b *Buffer) enter(ev Event) int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	ev.Kind = KindEnter
	ev.Depth = b.depth
	b.depth++
	b.appendLocked(ev)

	return ev.Depth
}

// leave records a terminal event for the frame that entered at depth, and
// restores the depth to that of the frame. If the buffer wasn't exactly one
// level below the frame, the event is marked as an anomaly.
func (b *Buffer) leave(ev Event, depth int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.depth-1 != depth {
		ev.Anomaly = true
		trcdebug.Faults.Anomalies.Add(1)
	}

	ev.Depth = depth
	b.depth = depth
	b.appendLocked(ev)
}

// Record adds a non-call event, like a log line, at the current depth. Log
// messages are bounded in length and kept to a single line.
func (b *Buffer) Record(ev Event) {
	if ev.Kind == 0 {
		ev.Kind = KindLog
	}
	ev.Message = renderMessage(ev.Message)

	b.mtx.Lock()
	defer b.mtx.Unlock()

	ev.Depth = b.depth
	b.appendLocked(ev)
}

// Snapshot returns a copy of the retained events, ordered by sequence number
// from oldest to newest. Snapshots are independent of the buffer, and remain
// valid as the buffer continues to accept events.
func (b *Buffer) Snapshot() Snapshot {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.snapshotLocked()
}

// Flush returns a snapshot, and then removes all retained events from the
// buffer. Sequence numbers and the current depth are preserved, so calls that
// are in progress still terminate correctly.
func (b *Buffer) Flush() Snapshot {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	s := b.snapshotLocked()
	b.ring.Reset()
	b.dropped = 0
	return s
}

func (b *Buffer) snapshotLocked() Snapshot {
	events := b.ring.Values()

	// Values are already in storage order, which matches insertion order, but
	// sequence numbers are the source of truth.
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })

	return Snapshot{
		ContextID: b.id,
		Start:     b.start,
		Events:    events,
		Dropped:   b.dropped,
	}
}

// Resize changes the capacity of the buffer, dropping the oldest events if the
// new capacity is smaller than the number of retained events.
func (b *Buffer) Resize(capacity int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	dropped := b.ring.Resize(clampCapacity(capacity))
	b.dropped += uint64(len(dropped))
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.ring.Len()
}

// Cap returns the maximum number of retained events.
func (b *Buffer) Cap() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.ring.Cap()
}

// Dropped returns the number of events that have been overwritten since the
// buffer was created or last flushed.
func (b *Buffer) Dropped() uint64 {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.dropped
}

// Depth returns the current call depth of the buffer's context.
func (b *Buffer) Depth() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.depth
}

func (b *Buffer) lastActive() time.Time {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.last
}

//
//
//

// Snapshot is an immutable copy of the events retained by a buffer.
type Snapshot struct {
	ContextID string
	Start     time.Time
	Events    []Event
	Dropped   uint64
}
