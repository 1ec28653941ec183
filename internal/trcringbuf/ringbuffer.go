package trcringbuf

// RingBuffer is a fixed-size collection of recent items. When full, adding an
// item overwrites the oldest one.
//
// RingBuffer is not safe for concurrent use. Callers are expected to provide
// their own synchronization, typically alongside other per-owner state.
type RingBuffer[T any] struct {
	buf []T // fully allocated at construction
	cur int // index for next write, walk backwards to read
	len int // count of actual values
}

// NewRingBuffer returns an empty ring buffer of items, pre-allocated with the
// given capacity.
func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	if cap < 0 {
		cap = 0
	}
	return &RingBuffer[T]{
		buf: make([]T, cap),
	}
}

// Cap returns the capacity of the ring buffer.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buf)
}

// Len returns the number of values currently stored in the ring buffer.
func (rb *RingBuffer[T]) Len() int {
	return rb.len
}

// Add the value to the ring buffer. If the ring buffer was full and an item was
// overwritten by this add, return that item and true, otherwise return a zero
// value item and false. Add never allocates.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	// Safety first.
	if len(rb.buf) <= 0 {
		return val, true
	}

	// Capture any overwritten value so it can be returned.
	if rb.len >= len(rb.buf) {
		dropped, ok = rb.buf[rb.cur], true
	}

	// Write the value at the write cursor.
	rb.buf[rb.cur] = val

	// Update the ring buffer size.
	if rb.len < len(rb.buf) {
		rb.len += 1
	}

	// Advance the write cursor.
	rb.cur += 1
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return dropped, ok
}

// Walk calls the given function for each value in the ring buffer, starting
// with the most recent value, and ending with the oldest value. If the function
// returns an error, the walk stops and that error is returned.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	for i := 0; i < rb.len; i++ {
		// Reads go backwards from one before the write cursor.
		cur := rb.cur - 1 - i

		// Wrap around when necessary.
		if cur < 0 {
			cur += len(rb.buf)
		}

		if err := fn(rb.buf[cur]); err != nil {
			return err
		}
	}

	return nil
}

// Values returns a copy of the values in the ring buffer, ordered from the
// oldest to the most recent. An empty ring buffer returns an empty, non-nil
// slice.
func (rb *RingBuffer[T]) Values() []T {
	vals := make([]T, rb.len)

	// The oldest value is len values back from the write cursor.
	cur := rb.cur - rb.len
	if cur < 0 {
		cur += len(rb.buf)
	}

	for i := range vals {
		vals[i] = rb.buf[cur]
		cur += 1
		if cur >= len(rb.buf) {
			cur -= len(rb.buf)
		}
	}

	return vals
}

// Reset removes all values from the ring buffer, keeping its capacity. Stored
// values are zeroed so they can be garbage collected.
func (rb *RingBuffer[T]) Reset() {
	var zero T
	for i := range rb.buf {
		rb.buf[i] = zero
	}
	rb.cur = 0
	rb.len = 0
}

// Resize changes the capacity of the ring buffer to the given value. If the new
// capacity is smaller than the existing capacity, resize will drop the older
// items as necessary, and return those dropped items.
func (rb *RingBuffer[T]) Resize(cap int) (dropped []T) {
	// Safety first.
	if cap <= 0 {
		return
	}

	// Calculate how many values to fill from the old buffer to the new one.
	fill := rb.len
	if fill > cap {
		fill = cap
	}

	// Calculate the read cursor for the old buffer.
	rdcur := rb.cur - 1
	if rdcur < 0 {
		rdcur += len(rb.buf)
	}

	// Construct the new buffer with the given capacity. As fill is guaranteed
	// to be less than or equal to cap, we calculate the write cursor as simply
	// fill, and will copy values by walking both cursors backwards.
	buf := make([]T, cap)
	wrcur := fill - 1

	// Copy recent values from the old buffer to the new buffer.
	for wrcur >= 0 {
		buf[wrcur] = rb.buf[rdcur]

		rdcur = rdcur - 1
		if rdcur < 0 {
			rdcur += len(rb.buf)
		}

		wrcur = wrcur - 1 // no need to do the wraparound math
	}

	// If we resized smaller, and the old buffer has more values than the new
	// capacity, then capture the values from the old buffer which are dropped.
	// They're collected newest first, so flip them to keep insertion order.
	for i := cap; i < rb.len; i++ {
		dropped = append(dropped, rb.buf[rdcur])

		rdcur = rdcur - 1
		if rdcur < 0 {
			rdcur += len(rb.buf)
		}
	}
	for i, j := 0, len(dropped)-1; i < j; i, j = i+1, j-1 {
		dropped[i], dropped[j] = dropped[j], dropped[i]
	}

	// Calculate the next write cursor for the new buffer. If we resized
	// smaller, then fill will equal cap, and we need to wrap around.
	cur := fill
	if cur >= cap {
		cur -= cap
	}

	rb.buf = buf
	rb.cur = cur
	rb.len = fill

	return dropped
}
