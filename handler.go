package trclog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peterbourgon/trclog/internal/trcdebug"
)

// DumpMode determines how a dump is delivered to the host logger.
type DumpMode int

const (
	// DumpAttach adds the dump to the triggering record, as an attribute.
	DumpAttach DumpMode = iota

	// DumpFollow forwards the triggering record unchanged, and then forwards
	// a second record, at the same level, carrying the dump as an attribute.
	DumpFollow
)

// String implements fmt.Stringer.
func (m DumpMode) String() string {
	switch m {
	case DumpAttach:
		return "attach"
	case DumpFollow:
		return "follow"
	default:
		return "unknown"
	}
}

// ParseDumpMode parses "attach" or "follow".
func ParseDumpMode(s string) (DumpMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "attach", "":
		return DumpAttach, nil
	case "follow":
		return DumpFollow, nil
	default:
		return DumpAttach, fmt.Errorf("invalid dump mode %q", s)
	}
}

// DumpMessage is the message of records produced in DumpFollow mode.
const DumpMessage = "trace dump"

// DumpKey is the default attribute key for dumps.
const DumpKey = "trace"

// HandlerConfig defines the configuration parameters for a delegating handler.
type HandlerConfig struct {
	// DumpThreshold is the minimum level of records that trigger a dump.
	// Optional. By default, the threshold is slog.LevelError.
	DumpThreshold slog.Leveler

	// Mode determines how dumps are delivered. Optional. By default, dumps
	// are attached to the triggering record.
	Mode DumpMode

	// Key is the attribute key for dumps. Optional. By default, the key is
	// "trace".
	Key string

	// RecordLogs determines whether every handled log record is also recorded
	// as an event in the buffer of its execution context, so that dumps include
	// log lines alongside calls. Only records the next handler is enabled for
	// are handled, and so recorded. A record that triggers a dump is recorded
	// after it, and appears in later dumps. Optional. By default, logs are
	// recorded.
	RecordLogs *bool

	// Dump configures the production of dumps.
	Dump DumpConfig
}

func (cfg HandlerConfig) normalize() HandlerConfig {
	if cfg.DumpThreshold == nil {
		cfg.DumpThreshold = slog.LevelError
	}
	if cfg.Key == "" {
		cfg.Key = DumpKey
	}
	if cfg.RecordLogs == nil {
		yes := true
		cfg.RecordLogs = &yes
	}
	return cfg
}

// Handler is a slog.Handler that delegates to another handler, and which dumps
// the trace of the calling execution context whenever it handles a record at
// or above its threshold level.
//
// Every record is forwarded to the next handler unchanged in message, level,
// and attributes, exactly when the next handler is enabled for it. Enabled
// delegates to the next handler. Dumping is best-effort: if producing a dump
// fails, the record is forwarded without one, and a debug-level diagnostic is
// sent directly to the next handler.
//
// The cost of a dump is one snapshot of the buffer, which copies at most its
// capacity in events, and one rendering, which is bounded by the configured
// max bytes.
type Handler struct {
	next slog.Handler
	reg  *Registry
	cfg  HandlerConfig
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler returns a handler that delegates to next, and dumps the buffers
// of the given registry. If the registry is nil, a new default registry is
// used.
func NewHandler(next slog.Handler, reg *Registry, cfg HandlerConfig) *Handler {
	if reg == nil {
		reg = NewDefaultRegistry()
	}
	return &Handler{
		next: next,
		reg:  reg,
		cfg:  cfg.normalize(),
	}
}

// NewLogger is a convenience function that returns a slog.Logger using a new
// handler.
func NewLogger(next slog.Handler, reg *Registry, cfg HandlerConfig) *slog.Logger {
	return slog.New(NewHandler(next, reg, cfg))
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		buf     = h.reg.Current(ctx)
		enabled = h.next.Enabled(ctx, rec.Level)
		dumping = enabled && rec.Level >= h.cfg.DumpThreshold.Level()
		dump    string
		dumpErr error
	)

	// The dump shows what led up to the record, and the record itself
	// follows in the buffer.
	if dumping {
		dump, dumpErr = Dump(buf, h.cfg.Dump)
	}

	if *h.cfg.RecordLogs {
		buf.Record(logEvent(rec))
	}

	switch {
	case !enabled:
		return nil

	case !dumping:
		return h.next.Handle(ctx, rec)

	case dumpErr != nil:
		h.diagnose(ctx, dumpErr)
		return h.next.Handle(ctx, rec)

	case h.cfg.Mode == DumpFollow:
		err := h.next.Handle(ctx, rec)
		follow := slog.NewRecord(rec.Time, rec.Level, DumpMessage, rec.PC)
		follow.AddAttrs(slog.String(h.cfg.Key, dump))
		return errors.Join(err, h.next.Handle(ctx, follow))

	default:
		rec = rec.Clone()
		rec.AddAttrs(slog.String(h.cfg.Key, dump))
		return h.next.Handle(ctx, rec)
	}
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		next: h.next.WithAttrs(attrs),
		reg:  h.reg,
		cfg:  h.cfg,
	}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		next: h.next.WithGroup(name),
		reg:  h.reg,
		cfg:  h.cfg,
	}
}

// diagnose reports a failed dump straight to the next handler, which never
// triggers another dump.
func (h *Handler) diagnose(ctx context.Context, err error) {
	if !h.next.Enabled(ctx, slog.LevelDebug) {
		return
	}
	rec := slog.NewRecord(time.Now(), slog.LevelDebug, "trace dump failed", 0)
	rec.AddAttrs(slog.String("error", err.Error()))
	_ = h.next.Handle(ctx, rec)
}

func logEvent(rec slog.Record) Event {
	ev := Event{
		Kind:    KindLog,
		When:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
	}

	if n := rec.NumAttrs(); n > 0 {
		ev.Attrs = make([]Field, 0, n)
		rec.Attrs(func(a slog.Attr) bool {
			ev.Attrs = append(ev.Attrs, Field{Name: a.Key, Value: render(a.Value.Resolve().Any(), renderLimitDef)})
			return len(ev.Attrs) < maxArgsDef
		})
	}

	return ev
}

// DumpConfig defines the configuration parameters for producing dumps.
type DumpConfig struct {
	// FlushOnDump determines whether a buffer is cleared after it's dumped,
	// so that each event appears in at most one dump. Optional. By default,
	// buffers are not flushed.
	FlushOnDump bool

	// Format configures the rendering of dumps.
	Format FormatConfig
}

// Dump snapshots the buffer and renders it as a Trace-DSL report. It's the
// shared dump path of every delegating logger. Dump recovers from any panic,
// and reports it as an error.
func Dump(buf *Buffer, cfg DumpConfig) (dump string, err error) {
	defer func() {
		if x := recover(); x != nil {
			trcdebug.Dumps.Failed.Add(1)
			dump, err = "", fmt.Errorf("panic: %v", x)
		}
	}()

	var s Snapshot
	if cfg.FlushOnDump {
		s = buf.Flush()
	} else {
		s = buf.Snapshot()
	}

	dump = FormatWith(s, cfg.Format)
	trcdebug.Dumps.Produced.Add(1)
	return dump, nil
}
