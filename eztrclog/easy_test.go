package eztrclog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/peterbourgon/trclog"
	"github.com/peterbourgon/trclog/eztrclog"
)

// These tests modify process-scoped state, so they don't run in parallel.

var errDivideByZero = errors.New("division by zero")

func TestInitAndDump(t *testing.T) {
	var out bytes.Buffer
	inst := eztrclog.Init(eztrclog.Config{
		Registry: trclog.RegistryConfig{Capacity: 16},
		Next:     slog.NewJSONHandler(&out, nil),
	})
	defer eztrclog.Shutdown()

	if want, have := inst.Registry, eztrclog.Registry(); want != have {
		t.Fatalf("Registry: want %p, have %p", want, have)
	}

	divide := eztrclog.Wrap("divide", func(ctx context.Context, a, b int) (int, error) {
		if b == 0 {
			return 0, errDivideByZero
		}
		return a / b, nil
	}, "a", "b")

	ctx, release := eztrclog.Begin(context.Background())
	defer release()

	if _, err := divide(ctx, 4, 2); err != nil {
		t.Fatalf("divide(4, 2): %v", err)
	}
	if _, err := divide(ctx, 4, 0); !errors.Is(err, errDivideByZero) {
		t.Fatalf("divide(4, 0): want %v, have %v", errDivideByZero, err)
	}

	eztrclog.Logger().ErrorContext(ctx, "divide failed")

	var rec map[string]any
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v (%s)", err, out.String())
	}

	if want, have := "divide failed", rec["msg"]; want != have {
		t.Errorf("msg: want %v, have %v", want, have)
	}

	dump, _ := rec[trclog.DumpKey].(string)
	for _, want := range []string{
		"→ ENTER divide(a=4, b=2)",
		"← EXIT divide => 2",
		"→ ENTER divide(a=4, b=0)",
		"! EXCEPTION divide => *errors.errorString: division by zero",
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump doesn't contain %q\n%s", want, dump)
		}
	}

	later := eztrclog.Dump(ctx)
	for _, want := range []string{
		"! EXCEPTION divide => *errors.errorString: division by zero",
		"LOG [ERROR] divide failed",
	} {
		if !strings.Contains(later, want) {
			t.Errorf("Dump doesn't contain %q\n%s", want, later)
		}
	}
}

func TestDumpReleased(t *testing.T) {
	eztrclog.Init(eztrclog.Config{Next: slog.NewTextHandler(&bytes.Buffer{}, nil)})
	defer eztrclog.Shutdown()

	ctx, release := eztrclog.Begin(context.Background())
	if err := eztrclog.Do(ctx, "noop", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	release()

	dump := eztrclog.Dump(ctx)
	if !strings.Contains(dump, trclog.NoTrace) {
		t.Errorf("Dump of a released context: have\n%s", dump)
	}
	if want, have := 0, eztrclog.Registry().Len(); want != have {
		t.Errorf("Len after Dump: want %d, have %d", want, have)
	}
}

func TestShutdown(t *testing.T) {
	first := eztrclog.Registry()
	ctx, release := first.Begin(context.Background())
	defer release()

	err := eztrclog.Do(ctx, "noop", func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 1, first.Len(); want != have {
		t.Errorf("Len before Shutdown: want %d, have %d", want, have)
	}

	eztrclog.Shutdown()

	if want, have := 0, first.Len(); want != have {
		t.Errorf("Len after Shutdown: want %d, have %d", want, have)
	}

	second := eztrclog.Registry()
	defer eztrclog.Shutdown()
	if first == second {
		t.Errorf("Registry after Shutdown: want a new registry")
	}
}

func TestCall(t *testing.T) {
	eztrclog.Init(eztrclog.Config{Next: slog.NewTextHandler(&bytes.Buffer{}, nil)})
	defer eztrclog.Shutdown()

	ctx, release := eztrclog.Begin(context.Background())
	defer release()

	n, err := eztrclog.Call(ctx, "answer", func(context.Context) (int, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 42, n; want != have {
		t.Errorf("Call: want %d, have %d", want, have)
	}

	if want, have := "← EXIT answer => 42", eztrclog.Dump(ctx); !strings.Contains(have, want) {
		t.Errorf("dump doesn't contain %q\n%s", want, have)
	}
}
