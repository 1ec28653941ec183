package trcutil

import "sync"

// Atomic holds a value of any type, which can be read and replaced
// concurrently.
type Atomic[T any] struct {
	mtx sync.Mutex
	val T
	set bool
}

// NewAtomic returns a new atomic wrapper around val.
func NewAtomic[T any](val T) *Atomic[T] {
	return &Atomic[T]{val: val, set: true}
}

// Set the value to val.
func (a *Atomic[T]) Set(val T) { a.mtx.Lock(); defer a.mtx.Unlock(); a.val, a.set = val, true }

// Get the current value.
func (a *Atomic[T]) Get() T { a.mtx.Lock(); defer a.mtx.Unlock(); return a.val }

// Swap sets the value to val, and returns the previous value.
func (a *Atomic[T]) Swap(val T) (prev T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	prev, a.val, a.set = a.val, val, true
	return prev
}

// GetOrInit returns the current value if one has been set. Otherwise, it sets
// the value to the result of fn, and returns it. Fn is called with the
// lock held, so concurrent callers observe exactly one initialization.
func (a *Atomic[T]) GetOrInit(fn func() T) T {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if !a.set {
		a.val, a.set = fn(), true
	}
	return a.val
}

// Reset clears the value, and returns the previous value. A subsequent call to
// GetOrInit initializes it again.
func (a *Atomic[T]) Reset() (prev T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	var zero T
	prev, a.val, a.set = a.val, zero, false
	return prev
}
