package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peterbourgon/trclog"
	"github.com/peterbourgon/trclog/trczap"
)

type rootConfig struct {
	stdout io.Writer
	stderr io.Writer

	logLevel      string
	logger        string
	hostLevel     string
	dumpLevel     string
	dumpMode      string
	flushOnDump   bool
	recordLogs    bool
	maxBytes      int
	capacity      int
	argLimit      int
	captureReturn bool
	sweepInterval time.Duration
	idle          time.Duration

	info, debug *log.Logger

	registry *trclog.Registry
	tracer   *trclog.Tracer
	reporter reporter
}

func (cfg *rootConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'l', LongName: "log" /*             */, Value: ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "none", "n") /*        */, Usage: "demo log level: i/info, d/debug, n/none", Placeholder: "LEVEL"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "logger" /*          */, Value: ffval.NewEnum(&cfg.logger, "text", "json", "zap") /*                          */, Usage: "host logger: text, json, zap", Placeholder: "LOGGER"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "host-level" /*      */, Value: ffval.NewEnum(&cfg.hostLevel, "info", "debug", "warn", "error") /*            */, Usage: "minimum level written by the host logger", Placeholder: "LEVEL"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "dump-level" /*      */, Value: ffval.NewEnum(&cfg.dumpLevel, "error", "warn", "info", "debug") /*            */, Usage: "minimum level of records that carry a trace dump", Placeholder: "LEVEL"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "dump-mode" /*       */, Value: ffval.NewEnum(&cfg.dumpMode, "attach", "follow") /*                           */, Usage: "attach dumps to records, or follow records with dumps", Placeholder: "MODE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "flush-on-dump" /*   */, Value: ffval.NewValue(&cfg.flushOnDump) /*                                          */, Usage: "clear each buffer after it's dumped"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "record-logs" /*     */, Value: ffval.NewValueDefault(&cfg.recordLogs, true) /*                              */, Usage: "record log records as trace events"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-bytes" /*       */, Value: ffval.NewValueDefault(&cfg.maxBytes, 16<<10) /*                              */, Usage: "maximum size of each dump", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "capacity" /*        */, Value: ffval.NewValueDefault(&cfg.capacity, 64) /*                                  */, Usage: "events retained per execution context", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "arg-limit" /*       */, Value: ffval.NewValueDefault(&cfg.argLimit, 200) /*                                 */, Usage: "maximum rendered size of each argument", Placeholder: "N"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "capture-return" /*  */, Value: ffval.NewValueDefault(&cfg.captureReturn, true) /*                           */, Usage: "record return values"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "sweep-interval" /*  */, Value: ffval.NewValueDefault(&cfg.sweepInterval, 10*time.Second) /*                 */, Usage: "how often to sweep idle execution contexts", Placeholder: "DURATION"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "idle" /*            */, Value: ffval.NewValueDefault(&cfg.idle, time.Minute) /*                             */, Usage: "execution contexts idle this long are swept", Placeholder: "DURATION"})
}

func (cfg *rootConfig) setup() error {
	cfg.registry = trclog.NewRegistry(trclog.RegistryConfig{
		Capacity: cfg.capacity,
	})

	cfg.tracer = trclog.NewTracer(cfg.registry, trclog.TracerConfig{
		ArgumentRenderLimit: cfg.argLimit,
		CaptureReturn:       &cfg.captureReturn,
	})

	mode, err := trclog.ParseDumpMode(cfg.dumpMode)
	if err != nil {
		return err
	}

	dumpConfig := trclog.DumpConfig{
		FlushOnDump: cfg.flushOnDump,
		Format:      trclog.FormatConfig{MaxBytes: cfg.maxBytes},
	}

	switch cfg.logger {
	case "zap":
		var hostLevel, dumpLevel zapcore.Level
		if err := hostLevel.UnmarshalText([]byte(cfg.hostLevel)); err != nil {
			return fmt.Errorf("host level: %w", err)
		}
		if err := dumpLevel.UnmarshalText([]byte(cfg.dumpLevel)); err != nil {
			return fmt.Errorf("dump level: %w", err)
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		host := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(cfg.stdout), hostLevel)

		core := trczap.NewCore(host, cfg.registry, trczap.Config{
			DumpLevel:  dumpLevel,
			Mode:       mode,
			RecordLogs: &cfg.recordLogs,
			Dump:       dumpConfig,
		})
		cfg.reporter = &zapReporter{logger: zap.New(core)}

	default:
		var hostLevel, dumpLevel slog.Level
		if err := hostLevel.UnmarshalText([]byte(cfg.hostLevel)); err != nil {
			return fmt.Errorf("host level: %w", err)
		}
		if err := dumpLevel.UnmarshalText([]byte(cfg.dumpLevel)); err != nil {
			return fmt.Errorf("dump level: %w", err)
		}

		var host slog.Handler
		switch opts := (&slog.HandlerOptions{Level: hostLevel}); cfg.logger {
		case "json":
			host = slog.NewJSONHandler(cfg.stdout, opts)
		default:
			host = slog.NewTextHandler(cfg.stdout, opts)
		}

		cfg.reporter = &slogReporter{logger: trclog.NewLogger(host, cfg.registry, trclog.HandlerConfig{
			DumpThreshold: dumpLevel,
			Mode:          mode,
			RecordLogs:    &cfg.recordLogs,
			Dump:          dumpConfig,
		})}
	}

	cfg.debug.Printf("logger %s, host level %s, dump level %s, dump mode %s", cfg.logger, cfg.hostLevel, cfg.dumpLevel, mode)
	cfg.debug.Printf("capacity %d, arg limit %d, capture return %v", cfg.capacity, cfg.argLimit, cfg.captureReturn)

	return nil
}

func (cfg *rootConfig) teardown() {
	if cfg.reporter != nil {
		if err := cfg.reporter.Sync(); err != nil {
			cfg.debug.Printf("sync logger: %v", err)
		}
	}
	if cfg.registry != nil {
		cfg.registry.Close()
	}
}

// janitor sweeps execution contexts that were never released.
func (cfg *rootConfig) janitor(ctx context.Context) error {
	return cfg.registry.Janitor(ctx, cfg.sweepInterval, cfg.idle)
}

func (cfg *rootConfig) printStats() {
	buf, err := json.MarshalIndent(trclog.DebugStats(), "", "    ")
	if err != nil {
		cfg.info.Printf("stats: %v", err)
		return
	}
	cfg.info.Printf("stats: %s", buf)
}
