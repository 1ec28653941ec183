package trclog

import (
	"bytes"
	"errors"
	"runtime"
	"strings"
	"testing"
)

type panickyStringer struct{}

func (panickyStringer) String() string { panic("no") }

type panickyError struct{}

func (*panickyError) Error() string { panic("no") }

func TestRender(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		value any
		limit int
		want  string
	}{
		{"nil", nil, 200, "<nil>"},
		{"int", 42, 200, "42"},
		{"string", "hi", 200, `"hi"`},
		{"bytes", []byte("hi"), 200, `"hi"`},
		{"struct", struct{ A, B int }{1, 2}, 200, "{1 2}"},
		{"error", errors.New("oops"), 200, "oops"},
		{"truncated", strings.Repeat("a", 12), 8, `"aaaaaaaa…(+4 bytes)"`},
		{"truncated rune", "aaaaaaa€", 8, `"aaaaaaa…(+3 bytes)"`},
		{"truncated bytes", bytes.Repeat([]byte("a"), 12), 8, `"aaaaaaaa…(+4 bytes)"`},
		{"short slice", []int{1, 2, 3}, 8, "[1 2 3]"},
		{"long slice", sequence(20), 8, "[0 1 2 3…(len=20)"},
		{"short map", map[string]int{"a": 1}, 8, "map[a:1]"},
		{"long map", mapOf(20), 8, "map[int]int(len=20)"},
		{"panicking stringer", panickyStringer{}, 200, Unrepresentable},
		{"panicking error", &panickyError{}, 200, Unrepresentable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if want, have := tc.want, render(tc.value, tc.limit); want != have {
				t.Errorf("want %s, have %s", want, have)
			}
		})
	}
}

func sequence(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func mapOf(n int) map[int]int {
	m := make(map[int]int, n)
	for i := 0; i < n; i++ {
		m[i] = i
	}
	return m
}

// Not parallel, so that no other test allocates while memory is measured.
func TestRenderLargeValueCost(t *testing.T) {
	var (
		large = bytes.Repeat([]byte("x"), 64<<20)
		ints  = sequence(1 << 20)
		m     = mapOf(1 << 16)
	)

	for _, tc := range []struct {
		name  string
		value any
	}{
		{"bytes", large},
		{"ints", ints},
		{"map", m},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const runs = 10
			var before, after runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&before)
			for i := 0; i < runs; i++ {
				if s := render(tc.value, renderLimitDef); len(s) > 2*renderLimitDef {
					t.Fatalf("rendered %d bytes", len(s))
				}
			}
			runtime.ReadMemStats(&after)

			if perRun := (after.TotalAlloc - before.TotalAlloc) / runs; perRun > 64<<10 {
				t.Errorf("render allocated %d bytes per call, want at most %d", perRun, 64<<10)
			}
		})
	}
}

func TestRenderErrorAndPanic(t *testing.T) {
	t.Parallel()

	if want, have := "*errors.errorString: oops", renderError(errors.New("oops"), 200); want != have {
		t.Errorf("renderError: want %q, have %q", want, have)
	}
	if want, have := `panic string: "boom"`, renderPanic("boom", 200); want != have {
		t.Errorf("renderPanic: want %q, have %q", want, have)
	}
	if want, have := "runtime.Goexit", renderPanic(nil, 200); want != have {
		t.Errorf("renderPanic(nil): want %q, have %q", want, have)
	}
}

func TestRenderValueLimits(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 300)

	if want, have := `"`+strings.Repeat("x", 200)+`…(+100 bytes)"`, RenderValue(long, 0); want != have {
		t.Errorf("default limit: have %s", have)
	}
	if want, have := `"`+strings.Repeat("x", 8)+`…(+292 bytes)"`, RenderValue(long, 1); want != have {
		t.Errorf("minimum limit: have %s", have)
	}
}

func TestRenderMessage(t *testing.T) {
	t.Parallel()

	if want, have := `one\ntwo\r`, renderMessage("one\ntwo\r"); want != have {
		t.Errorf("want %q, have %q", want, have)
	}
}
