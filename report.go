package trclog

import (
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/peterbourgon/trclog/internal/trcutil"
)

// FormatConfig defines the configuration parameters for rendering reports.
type FormatConfig struct {
	// MaxBytes bounds the size of a rendered report. When a report would be
	// larger, its oldest lines are replaced by a single line noting how many
	// were omitted. The header and footer are always kept. Optional. By
	// default, the max is 64KiB. The minimum is 1KiB, and the maximum is 16MiB.
	MaxBytes int
}

const (
	maxBytesMin = 1 << 10
	maxBytesDef = 64 << 10
	maxBytesMax = 16 << 20
)

func (cfg FormatConfig) maxBytes() int {
	switch n := cfg.MaxBytes; {
	case n <= 0:
		return maxBytesDef
	case n < maxBytesMin:
		return maxBytesMin
	case n > maxBytesMax:
		return maxBytesMax
	default:
		return n
	}
}

// NoTrace is the body of a report over an empty snapshot.
const NoTrace = "no trace recorded"

// Format renders the snapshot as a Trace-DSL report with the default config.
// Formatting the same snapshot always produces the same output.
func Format(s Snapshot) string {
	return FormatWith(s, FormatConfig{})
}

// FormatWith renders the snapshot as a Trace-DSL report with the given config.
func FormatWith(s Snapshot, cfg FormatConfig) string {
	r := BuildReport(s)
	r.Config = cfg
	return r.String()
}

//
//
//

// Node is a single entry in a report's call tree.
//
// Most nodes represent a call: Event is its ENTER event, End is its terminal
// event, and Children are the calls and log lines that happened within it.
// Log lines are leaf nodes whose Event is a KindLog event. A terminal event
// whose ENTER was overwritten in the buffer becomes a leaf node whose Event is
// that terminal event.
type Node struct {
	Event    Event
	End      *Event
	Children []*Node
}

// InProgress returns true if the node represents a call whose terminal event
// is not in the snapshot, either because the call hasn't returned yet, or
// because it never terminated properly.
func (n *Node) InProgress() bool {
	return n.Event.Kind == KindEnter && n.End == nil
}

// Truncated returns true if the node represents a terminal event whose ENTER
// event was lost to buffer wraparound.
func (n *Node) Truncated() bool {
	return n.Event.Kind.Terminal()
}

// Duration returns the time between the ENTER and terminal events of a call,
// or zero if either isn't known.
func (n *Node) Duration() time.Duration {
	if n.Event.Kind != KindEnter || n.End == nil {
		return 0
	}
	return n.End.When.Sub(n.Event.When)
}

// Report is the call tree reconstructed from a snapshot.
type Report struct {
	ContextID string
	Start     time.Time
	Events    int
	Dropped   uint64
	Roots     []*Node
	Config    FormatConfig
}

// BuildReport reconstructs the call tree of the snapshot, using the depth and
// sequence number of each event.
func BuildReport(s Snapshot) *Report {
	r := &Report{
		ContextID: s.ContextID,
		Start:     s.Start,
		Events:    len(s.Events),
		Dropped:   s.Dropped,
	}

	var stack []*Node // open calls, outermost first

	attach := func(n *Node) {
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, n)
		} else {
			r.Roots = append(r.Roots, n)
		}
	}

	// Calls at or below the given depth can't contain the next event, so
	// they're closed, and left in progress if they never terminated.
	unwind := func(depth int) {
		for len(stack) > 0 && stack[len(stack)-1].Event.Depth >= depth {
			stack = stack[:len(stack)-1]
		}
	}

	for _, ev := range s.Events {
		switch ev.Kind {
		case KindEnter:
			unwind(ev.Depth)
			n := &Node{Event: ev}
			attach(n)
			stack = append(stack, n)

		case KindExit, KindException:
			match := -1
			for i := len(stack) - 1; i >= 0; i-- {
				open := stack[i].Event
				if open.Depth < ev.Depth {
					break
				}
				if open.Depth == ev.Depth && open.Name == ev.Name {
					match = i
					break
				}
			}

			if match >= 0 {
				end := ev
				stack[match].End = &end
				stack = stack[:match]
				continue
			}

			unwind(ev.Depth)
			attach(&Node{Event: ev})

		default:
			unwind(ev.Depth)
			attach(&Node{Event: ev})
		}
	}

	return r
}

// String renders the report as Trace-DSL text, without a trailing newline.
func (r *Report) String() string {
	return strings.Join(r.Lines(), "\n")
}

// WriteTo writes the rendered report, followed by a newline, to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.String()+"\n")
	return int64(n), err
}

// Lines renders the report as individual lines of Trace-DSL text, bounded by
// the configured max bytes.
//
// Each body line contains the time elapsed since the start of the execution
// context, an indent of one "· " per level of depth, a glyph, the event kind,
// and the details of the event.
//
//	=== trace 01HQ3V8Z7G5ZK3W4E9X2Y1T0RS (4 events, 0 dropped) ===
//	+0s       → ENTER main.divide(a=4, b=2)
//	+4µs      ← EXIT main.divide => 2 [4µs]
//	+9µs      → ENTER main.divide(a=4, b=0)
//	+12µs     ! EXCEPTION main.divide => *errors.errorString: division by zero [3µs]
//	=== end trace ===
func (r *Report) Lines() []string {
	header := "=== trace " + r.ContextID + " (" + strconv.Itoa(r.Events) + " events, " + strconv.FormatUint(r.Dropped, 10) + " dropped) ==="
	footer := "=== end trace ==="

	var body []string
	for _, n := range r.Roots {
		body = r.appendNode(body, n)
	}
	if len(body) <= 0 {
		body = append(body, NoTrace)
	}

	budget := r.Config.maxBytes() - (len(header) + 1) - (len(footer) + 1)
	var size int
	for _, line := range body {
		size += len(line) + 1
	}

	var omitted int
	if size > budget {
		budget -= 64 // room for the omission line
		for size > budget && omitted < len(body) {
			size -= len(body[omitted]) + 1
			omitted++
		}
	}

	lines := make([]string, 0, len(body)-omitted+3)
	lines = append(lines, header)
	if omitted > 0 {
		lines = append(lines, "("+strconv.Itoa(omitted)+" earlier lines omitted)")
	}
	lines = append(lines, body[omitted:]...)
	lines = append(lines, footer)

	return lines
}

func (r *Report) appendNode(lines []string, n *Node) []string {
	ev := n.Event

	switch {
	case ev.Kind == KindEnter:
		line := r.line(ev, "→", ev.Name+"("+joinFields(ev.Args)+")")
		if n.InProgress() {
			line += " (in progress)"
		}
		lines = append(lines, line)

		for _, c := range n.Children {
			lines = r.appendNode(lines, c)
		}

		if n.End != nil {
			line := r.line(*n.End, glyph(n.End.Kind), terminalDetail(*n.End)+" ["+trcutil.HumanizeDuration(n.Duration())+"]")
			if n.End.Anomaly {
				line += " (depth anomaly)"
			}
			lines = append(lines, line)
		}

	case n.Truncated():
		line := r.line(ev, glyph(ev.Kind), terminalDetail(ev)) + " (entry truncated)"
		if ev.Anomaly {
			line += " (depth anomaly)"
		}
		lines = append(lines, line)

	case ev.Kind == KindLog:
		detail := "[" + ev.Level + "] " + ev.Message
		if len(ev.Attrs) > 0 {
			detail += " " + joinFields(ev.Attrs)
		}
		lines = append(lines, r.line(ev, "·", detail))

	default:
		lines = append(lines, r.line(ev, "?", ev.Name))
	}

	return lines
}

func (r *Report) line(ev Event, glyph, detail string) string {
	var elapsed time.Duration
	if !r.Start.IsZero() && ev.When.After(r.Start) {
		elapsed = ev.When.Sub(r.Start)
	}

	offset := "+" + trcutil.HumanizeDuration(elapsed)
	if pad := 9 - utf8.RuneCountInString(offset); pad > 0 {
		offset += strings.Repeat(" ", pad)
	}

	return offset + " " + strings.Repeat("· ", ev.Depth) + glyph + " " + ev.Kind.String() + " " + detail
}

func glyph(k Kind) string {
	switch k {
	case KindEnter:
		return "→"
	case KindExit:
		return "←"
	case KindException:
		return "!"
	default:
		return "·"
	}
}

func terminalDetail(ev Event) string {
	switch {
	case ev.Kind == KindException:
		return ev.Name + " => " + ev.Error
	case ev.Result != "":
		return ev.Name + " => " + ev.Result
	default:
		return ev.Name
	}
}

func joinFields(fields []Field) string {
	strs := make([]string, len(fields))
	for i, f := range fields {
		strs[i] = f.Name + "=" + f.Value
	}
	return strings.Join(strs, ", ")
}
