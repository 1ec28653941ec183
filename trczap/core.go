// Package trczap provides a delegating zapcore.Core, which dumps the trace of
// the calling execution context into error-level log entries.
//
// Zap entries don't carry a context.Context, so callers identify their
// execution context with a Context field. Entries without one are recorded
// into, and dumped from, the registry's fallback buffer.
//
//	logger := zap.New(trczap.NewCore(zapCore, reg, trczap.Config{}))
//	logger.Error("request failed", trczap.Context(ctx), zap.Error(err))
package trczap

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peterbourgon/trclog"
)

// contextKey is the key of Context fields. Encoders never see it.
const contextKey = "trclog.context"

// Context returns a field that identifies the execution context of ctx. The
// field has zapcore.SkipType, so it's invisible to encoders, and adds nothing
// to the encoded entry.
func Context(ctx context.Context) zap.Field {
	return zap.Field{Key: contextKey, Type: zapcore.SkipType, Interface: ctx}
}

// Config defines the configuration parameters for a delegating core.
type Config struct {
	// DumpLevel determines which entries trigger a dump. Optional. By
	// default, entries at zapcore.ErrorLevel and above trigger dumps.
	DumpLevel zapcore.LevelEnabler

	// Mode determines how dumps are delivered. Optional. By default, dumps
	// are added to the triggering entry as a field.
	Mode trclog.DumpMode

	// Key is the field key for dumps. Optional. By default, the key is
	// "trace".
	Key string

	// RecordLogs determines whether every entry is also recorded as a log
	// event in the buffer of its execution context. Optional. By default,
	// entries are recorded.
	RecordLogs *bool

	// Dump configures the production of dumps.
	Dump trclog.DumpConfig
}

func (cfg Config) normalize() Config {
	if cfg.DumpLevel == nil {
		cfg.DumpLevel = zapcore.ErrorLevel
	}
	if cfg.Key == "" {
		cfg.Key = trclog.DumpKey
	}
	if cfg.RecordLogs == nil {
		yes := true
		cfg.RecordLogs = &yes
	}
	return cfg
}

// Core is a zapcore.Core that delegates to another core, and which dumps the
// trace of the entry's execution context whenever it writes an entry enabled
// by its dump level. The rules are the same as for trclog.Handler: Enabled
// delegates, entries are forwarded unchanged exactly when the next core is
// enabled for them, and failed dumps are reported to the next core at debug
// level.
//
// Every entry, including dump and diagnostic entries, is forwarded through the
// next core's own Check, so that any routing or sampling it does there, like
// that of a tee, still applies.
type Core struct {
	next zapcore.Core
	reg  *trclog.Registry
	cfg  Config
	ctx  context.Context
}

var _ zapcore.Core = (*Core)(nil)

// NewCore returns a core that delegates to next, and dumps the buffers of the
// given registry. If the registry is nil, a new default registry is used.
func NewCore(next zapcore.Core, reg *trclog.Registry, cfg Config) *Core {
	if reg == nil {
		reg = trclog.NewDefaultRegistry()
	}
	return &Core{
		next: next,
		reg:  reg,
		cfg:  cfg.normalize(),
	}
}

// Enabled implements zapcore.Core.
func (c *Core) Enabled(level zapcore.Level) bool {
	return c.next.Enabled(level)
}

// With implements zapcore.Core. A Context field sets the execution context of
// every entry written by the returned core.
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	ctx := c.ctx
	if x, ok := contextFrom(fields); ok {
		ctx = x
	}
	return &Core{
		next: c.next.With(fields),
		reg:  c.reg,
		cfg:  c.cfg,
		ctx:  ctx,
	}
}

// Check implements zapcore.Core.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write implements zapcore.Core.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ctx := c.ctx
	if x, ok := contextFrom(fields); ok {
		ctx = x
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		buf     = c.reg.Current(ctx)
		dumping = c.cfg.DumpLevel.Enabled(ent.Level)
		dump    string
		dumpErr error
	)

	if dumping {
		dump, dumpErr = trclog.Dump(buf, c.cfg.Dump)
	}

	if *c.cfg.RecordLogs {
		buf.Record(trclog.Event{
			Kind:    trclog.KindLog,
			When:    ent.Time,
			Level:   ent.Level.CapitalString(),
			Message: ent.Message,
			Attrs:   renderFields(fields),
		})
	}

	switch {
	case !dumping:
		return c.forward(ent, fields)

	case dumpErr != nil:
		c.diagnose(ent, dumpErr)
		return c.forward(ent, fields)

	case c.cfg.Mode == trclog.DumpFollow:
		err := c.forward(ent, fields)
		follow := ent
		follow.Message = trclog.DumpMessage
		return errors.Join(err, c.forward(follow, []zapcore.Field{zap.String(c.cfg.Key, dump)}))

	default:
		attached := make([]zapcore.Field, 0, len(fields)+1)
		attached = append(attached, fields...)
		attached = append(attached, zap.String(c.cfg.Key, dump))
		return c.forward(ent, attached)
	}
}

// Sync implements zapcore.Core.
func (c *Core) Sync() error {
	return c.next.Sync()
}

// forward writes the entry to every core that the next core's Check selects.
// Write errors are collected and returned, rather than going to an error
// output.
func (c *Core) forward(ent zapcore.Entry, fields []zapcore.Field) error {
	ce := c.next.Check(ent, nil)
	if ce == nil {
		return nil
	}

	var errs writeErrors
	ce.ErrorOutput = &errs
	ce.Write(fields...)
	return errs.err
}

// diagnose reports a failed dump straight to the next core.
func (c *Core) diagnose(ent zapcore.Entry, err error) {
	_ = c.forward(zapcore.Entry{
		Level:      zapcore.DebugLevel,
		Time:       time.Now(),
		LoggerName: ent.LoggerName,
		Message:    "trace dump failed",
	}, []zapcore.Field{zap.Error(err)})
}

// writeErrors is the error output of forwarded entries. A checked entry
// reports each failed write as one line.
type writeErrors struct {
	err error
}

func (w *writeErrors) Write(p []byte) (int, error) {
	w.err = errors.Join(w.err, errors.New(strings.TrimSpace(string(p))))
	return len(p), nil
}

func (w *writeErrors) Sync() error {
	return nil
}

func contextFrom(fields []zapcore.Field) (context.Context, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if f.Key != contextKey || f.Type != zapcore.SkipType {
			continue
		}
		if ctx, ok := f.Interface.(context.Context); ok && ctx != nil {
			return ctx, true
		}
	}
	return nil, false
}

// renderFields renders fields in order, using the same bounded rendering as
// traced arguments.
func renderFields(fields []zapcore.Field) []trclog.Field {
	var res []trclog.Field
	for _, f := range fields {
		if f.Type == zapcore.SkipType {
			continue
		}
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		v, ok := enc.Fields[f.Key]
		if !ok {
			continue
		}
		res = append(res, trclog.Field{Name: f.Key, Value: trclog.RenderValue(v, 0)})
	}
	return res
}
