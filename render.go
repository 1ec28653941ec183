package trclog

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/peterbourgon/trclog/internal/trcdebug"
)

// Unrepresentable replaces any value whose rendering fails.
const Unrepresentable = "<unrepresentable>"

const (
	renderLimitMin = 8
	renderLimitDef = 200
	renderLimitMax = 65536
)

func clampRenderLimit(n int) int {
	switch {
	case n <= 0:
		return renderLimitDef
	case n < renderLimitMin:
		return renderLimitMin
	case n > renderLimitMax:
		return renderLimitMax
	default:
		return n
	}
}

// RenderValue produces a textual snapshot of v, at most limit bytes long
// before quoting, plus an explicit truncation marker. It never panics: values
// whose rendering fails become Unrepresentable. A limit of zero or less uses
// the default limit.
//
// The cost of rendering strings, byte slices, slices, and maps is bounded by
// the limit, not by the size of the value. Slices longer than the limit are
// rendered from their first elements, with a marker giving their length, and
// maps longer than the limit are rendered as their type and length.
func RenderValue(v any, limit int) string {
	return render(v, clampRenderLimit(limit))
}

// render produces a bounded-length textual snapshot of v. It never panics, and
// never retains v.
func render(v any, limit int) (s string) {
	defer func() {
		if x := recover(); x != nil {
			trcdebug.Faults.Unrepresentable.Add(1)
			s = Unrepresentable
		}
	}()

	var elided int
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(truncate(x, limit))
	case []byte:
		return strconv.Quote(truncatePrefix(string(x[:min(len(x), limit+1)]), len(x), limit))
	case error:
		s = fmt.Sprint(x)
	default:
		s, elided = sprintBounded(x, limit)
	}

	// Package fmt recovers from panics in String and Error methods, and
	// reports them inline.
	if strings.Contains(s, "%!v(PANIC=") {
		trcdebug.Faults.Unrepresentable.Add(1)
		return Unrepresentable
	}

	if elided > 0 {
		return cut(s, limit) + "…(len=" + strconv.Itoa(elided) + ")"
	}

	return truncate(s, limit)
}

// sprintBounded formats x with %v. Slices with more than limit elements are
// formatted from their first limit elements only, since each element takes at
// least one byte, and their length is returned as elided. Maps with more than
// limit entries are formatted as their type and length.
func sprintBounded(x any, limit int) (s string, elided int) {
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice:
		if n := rv.Len(); n > limit {
			return fmt.Sprintf("%v", rv.Slice(0, limit).Interface()), n
		}
	case reflect.Map:
		if n := rv.Len(); n > limit {
			return fmt.Sprintf("%T(len=%d)", x, n), 0
		}
	}
	return fmt.Sprintf("%v", x), 0
}

// renderError renders an error as "type: message".
func renderError(err error, limit int) string {
	return typeName(err) + ": " + render(err, limit)
}

// renderPanic renders a recovered panic value. A nil value means the goroutine
// is exiting via runtime.Goexit.
func renderPanic(v any, limit int) string {
	if v == nil {
		return "runtime.Goexit"
	}
	return "panic " + typeName(v) + ": " + render(v, limit)
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

// truncate s to at most limit bytes, on a rune boundary, with an explicit
// marker noting how much was removed.
func truncate(s string, limit int) string {
	return truncatePrefix(s, len(s), limit)
}

// truncatePrefix is truncate for a value that's size bytes long, of which s is
// a prefix at least limit+1 bytes long, or the whole value.
func truncatePrefix(s string, size, limit int) string {
	if limit <= 0 || size <= limit {
		return s
	}
	s = cut(s, limit)
	return s + "…(+" + strconv.Itoa(size-len(s)) + " bytes)"
}

// cut returns the longest prefix of s that's at most limit bytes long and ends
// on a rune boundary.
func cut(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// renderMessage bounds a log message, and keeps it on a single line.
func renderMessage(msg string) string {
	msg = truncate(msg, renderLimitMax)
	if strings.ContainsAny(msg, "\r\n") {
		msg = strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(msg)
	}
	return msg
}
