package trclog_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/peterbourgon/trclog"
)

func TestRegistryBegin(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()

	ctx1, release1 := reg.Begin(context.Background())
	ctx2, release2 := reg.Begin(ctx1)

	id1, ok1 := trclog.ContextID(ctx1)
	id2, ok2 := trclog.ContextID(ctx2)
	if !ok1 || !ok2 {
		t.Fatalf("Begin didn't install context IDs")
	}
	if id1 == id2 {
		t.Fatalf("nested Begin reused context ID %s", id1)
	}

	b1, b2 := reg.Current(ctx1), reg.Current(ctx2)
	if b1 == b2 {
		t.Fatalf("nested contexts share a buffer")
	}
	assertEqual(t, b1.ID(), id1)
	assertEqual(t, b2.ID(), id2)
	assertEqual(t, reg.Current(ctx1) == b1, true)
	assertEqual(t, reg.Len(), 2)

	release2()
	release2() // idempotent
	assertEqual(t, reg.Len(), 1)
	if _, ok := reg.Lookup(id2); ok {
		t.Errorf("released buffer still present")
	}

	release1()
	assertEqual(t, reg.Len(), 0)
}

func TestRegistryFallback(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	tracer := trclog.NewTracer(reg, trclog.TracerConfig{})

	tracer.Do(context.Background(), "orphan", func(context.Context) error { return nil })

	assertEqual(t, reg.Len(), 0)
	assertEqual(t, reg.Fallback().ID(), trclog.FallbackID)
	assertEqual(t, kinds(reg.Fallback().Snapshot().Events), []string{"ENTER orphan", "EXIT orphan"})

	b, ok := reg.Lookup(trclog.FallbackID)
	assertEqual(t, ok, true)
	assertEqual(t, b == reg.Fallback(), true)
}

func TestRegistryWithContextID(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	ctx := trclog.WithContextID(context.Background(), "request-123")

	b := reg.Current(ctx)
	assertEqual(t, b.ID(), "request-123")
	assertEqual(t, reg.Current(trclog.WithContextID(context.Background(), "request-123")) == b, true)

	reg.Release("request-123")
	assertEqual(t, reg.Len(), 0)
}

func TestRegistrySweep(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	stale, _ := reg.Begin(context.Background())
	fresh, _ := reg.Begin(context.Background())

	reg.Current(stale).Append(trclog.Event{Kind: trclog.KindLog, When: time.Now().Add(-time.Hour)})
	reg.Current(fresh).Append(trclog.Event{Kind: trclog.KindLog})

	assertEqual(t, reg.Sweep(time.Minute), 1)
	assertEqual(t, reg.Len(), 1)

	id, _ := trclog.ContextID(fresh)
	if _, ok := reg.Lookup(id); !ok {
		t.Errorf("fresh buffer was swept")
	}
}

func TestRegistryJanitor(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	ctx, _ := reg.Begin(context.Background())
	reg.Current(ctx).Append(trclog.Event{Kind: trclog.KindLog, When: time.Now().Add(-time.Hour)})

	jctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Janitor(jctx, time.Millisecond, time.Minute) }()

	deadline := time.Now().Add(5 * time.Second)
	for reg.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	assertEqual(t, reg.Len(), 0)
	if err := <-done; err != context.Canceled {
		t.Errorf("Janitor: want %v, have %v", context.Canceled, err)
	}
}

func TestRegistryClose(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	ctx, release := reg.Begin(context.Background())
	defer release()

	reg.Current(ctx)
	reg.Close()
	reg.Close()

	assertEqual(t, reg.Len(), 0)
	assertEqual(t, reg.Current(ctx) == reg.Fallback(), true)
}

func TestRegistryResize(t *testing.T) {
	t.Parallel()

	reg := trclog.NewRegistry(trclog.RegistryConfig{Capacity: 8})
	ctx, release := reg.Begin(context.Background())
	defer release()

	b := reg.Current(ctx)
	assertEqual(t, b.Cap(), 8)

	reg.Resize(4)
	assertEqual(t, b.Cap(), 4)
	assertEqual(t, reg.Fallback().Cap(), 4)

	other, release := reg.Begin(context.Background())
	defer release()
	assertEqual(t, reg.Current(other).Cap(), 4)
}

func TestRegistryConcurrentContexts(t *testing.T) {
	t.Parallel()

	reg := trclog.NewRegistry(trclog.RegistryConfig{Capacity: 64})
	tracer := trclog.NewTracer(reg, trclog.TracerConfig{})

	const n = 16
	var wg sync.WaitGroup
	snapshots := make([]trclog.Snapshot, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, release := reg.Begin(context.Background())
			defer release()
			for j := 0; j < 10; j++ {
				tracer.Do(ctx, "outer", func(ctx context.Context) error {
					return tracer.Do(ctx, "inner", func(context.Context) error { return nil })
				}, trclog.Param("i", i))
			}
			snapshots[i] = reg.Current(ctx).Snapshot()
		}(i)
	}
	wg.Wait()

	for i, s := range snapshots {
		assertEqual(t, len(s.Events), 40)
		for _, ev := range s.Events {
			if ev.Anomaly {
				t.Fatalf("goroutine %d: anomaly in %v", i, ev)
			}
			if ev.Kind == trclog.KindEnter && ev.Name == "outer" && ev.Args[0].Value != strconv.Itoa(i) {
				t.Fatalf("goroutine %d: foreign event %v", i, ev)
			}
		}
	}

	assertEqual(t, reg.Len(), 0)
}

func TestRegistryConcurrentSweep(t *testing.T) {
	t.Parallel()

	reg := trclog.NewRegistry(trclog.RegistryConfig{Capacity: 16})
	tracer := trclog.NewTracer(reg, trclog.TracerConfig{})

	done := make(chan struct{})
	swept := make(chan int)
	go func() {
		var n int
		for {
			select {
			case <-done:
				swept <- n
				return
			default:
				n += reg.Sweep(0)
				if have := reg.Len(); have < 0 {
					t.Errorf("Len went negative: %d", have)
				}
			}
		}
	}()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ctx, release := reg.Begin(context.Background())
				tracer.Do(ctx, "work", func(context.Context) error { return nil })
				release()
			}
		}()
	}
	wg.Wait()
	close(done)
	<-swept

	assertEqual(t, reg.Len(), 0)
}

func TestRegistryCurrentAfterRelease(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	ctx, release := reg.Begin(context.Background())

	b := reg.Current(ctx)
	assertEqual(t, reg.Current(ctx) == b, true)
	release()

	id, _ := trclog.ContextID(ctx)
	if _, ok := reg.Lookup(id); ok {
		t.Fatalf("released buffer still present")
	}
	assertEqual(t, reg.Len(), 0)

	if again := reg.Current(ctx); again == b {
		t.Errorf("Current after release returned the released buffer")
	}
	assertEqual(t, reg.Len(), 1)
	reg.Release(id)
	assertEqual(t, reg.Len(), 0)
}
