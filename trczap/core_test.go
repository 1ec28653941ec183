package trczap_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/peterbourgon/trclog"
	"github.com/peterbourgon/trclog/trczap"
)

func TestCoreAttach(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	tracer := trclog.NewTracer(reg, trclog.TracerConfig{})
	obs, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(trczap.NewCore(obs, reg, trczap.Config{}))

	ctx, release := reg.Begin(context.Background())
	defer release()

	errBoom := errors.New("boom")
	err := tracer.Do(ctx, "work", func(ctx context.Context) error {
		logger.Debug("filtered", trczap.Context(ctx))
		logger.Info("working", trczap.Context(ctx), zap.Int("n", 3))
		return errBoom
	})
	if want, have := errBoom, err; want != have {
		t.Fatalf("error: want %v, have %v", want, have)
	}

	logger.Error("work failed", trczap.Context(ctx), zap.Error(err))

	entries := logs.All()
	if want, have := 2, len(entries); want != have {
		t.Fatalf("entries: want %d, have %d", want, have)
	}

	info := entries[0]
	if want, have := "working", info.Message; want != have {
		t.Errorf("message: want %q, have %q", want, have)
	}
	if _, ok := info.ContextMap()[trclog.DumpKey]; ok {
		t.Errorf("info entry unexpectedly has a dump")
	}

	failed := entries[1]
	fields := failed.ContextMap()
	if want, have := "boom", fields["error"]; want != have {
		t.Errorf("error field: want %v, have %v", want, have)
	}

	dump, _ := fields[trclog.DumpKey].(string)
	for _, want := range []string{
		"=== trace " + mustContextID(t, ctx),
		"→ ENTER work()",
		"· LOG [INFO] working n=3",
		"! EXCEPTION work => *errors.errorString: boom",
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump doesn't contain %q\n%s", want, dump)
		}
	}
	if strings.Contains(dump, "filtered") {
		t.Errorf("dump contains an entry no core was enabled for\n%s", dump)
	}
}

func TestCoreFollow(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(trczap.NewCore(obs, reg, trczap.Config{Mode: trclog.DumpFollow}))

	ctx, release := reg.Begin(context.Background())
	defer release()

	logger.Warn("careful", trczap.Context(ctx))
	logger.Error("broken", trczap.Context(ctx), zap.String("k", "v"))

	entries := logs.All()
	if want, have := 3, len(entries); want != have {
		t.Fatalf("entries: want %d, have %d", want, have)
	}

	if want, have := "broken", entries[1].Message; want != have {
		t.Errorf("triggering message: want %q, have %q", want, have)
	}
	if want, have := 1, len(entries[1].ContextMap()); want != have {
		t.Errorf("triggering fields: want %d, have %d", want, have)
	}

	follow := entries[2]
	if want, have := trclog.DumpMessage, follow.Message; want != have {
		t.Errorf("follow message: want %q, have %q", want, have)
	}
	if want, have := zapcore.ErrorLevel, follow.Level; want != have {
		t.Errorf("follow level: want %v, have %v", want, have)
	}
	dump, _ := follow.ContextMap()[trclog.DumpKey].(string)
	if !strings.Contains(dump, "LOG [WARN] careful") {
		t.Errorf("dump doesn't contain the earlier entry\n%s", dump)
	}
	if strings.Contains(dump, "broken") {
		t.Errorf("dump contains its own triggering entry\n%s", dump)
	}
}

func TestCoreTee(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	infoCore, infoLogs := observer.New(zapcore.InfoLevel)
	errorCore, errorLogs := observer.New(zapcore.ErrorLevel)
	logger := zap.New(trczap.NewCore(zapcore.NewTee(infoCore, errorCore), reg, trczap.Config{Mode: trclog.DumpFollow}))

	ctx, release := reg.Begin(context.Background())
	defer release()

	logger.Debug("ignored", trczap.Context(ctx))
	logger.Info("hello", trczap.Context(ctx))

	if want, have := 1, infoLogs.Len(); want != have {
		t.Errorf("info sink after Info: want %d, have %d", want, have)
	}
	if want, have := 0, errorLogs.Len(); want != have {
		t.Errorf("error sink after Info: want %d, have %d", want, have)
	}

	logger.Error("goodbye", trczap.Context(ctx))

	for name, logs := range map[string]*observer.ObservedLogs{"info": infoLogs, "error": errorLogs} {
		entries := logs.FilterMessage(trclog.DumpMessage).All()
		if want, have := 1, len(entries); want != have {
			t.Errorf("%s sink: want %d dump entry, have %d", name, want, have)
			continue
		}
		dump, _ := entries[0].ContextMap()[trclog.DumpKey].(string)
		if !strings.Contains(dump, "LOG [INFO] hello") {
			t.Errorf("%s sink: dump doesn't contain the info entry\n%s", name, dump)
		}
	}
	if want, have := 3, infoLogs.Len(); want != have {
		t.Errorf("info sink: want %d entries, have %d", want, have)
	}
	if want, have := 2, errorLogs.Len(); want != have {
		t.Errorf("error sink: want %d entries, have %d", want, have)
	}
}

func TestCoreEnabledDelegates(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	obs, _ := observer.New(zapcore.WarnLevel)
	core := trczap.NewCore(obs, reg, trczap.Config{})

	for _, level := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel} {
		if want, have := obs.Enabled(level), core.Enabled(level); want != have {
			t.Errorf("Enabled(%v): want %v, have %v", level, want, have)
		}
	}
}

func TestCoreWithContext(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	obs, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(trczap.NewCore(obs, reg, trczap.Config{}))

	ctx, release := reg.Begin(context.Background())
	defer release()

	scoped := logger.With(trczap.Context(ctx), zap.String("scope", "job"))
	scoped.Info("one")
	scoped.Error("two")

	entries := logs.All()
	if want, have := 2, len(entries); want != have {
		t.Fatalf("entries: want %d, have %d", want, have)
	}

	dump, _ := entries[1].ContextMap()[trclog.DumpKey].(string)
	if want := "=== trace " + mustContextID(t, ctx); !strings.Contains(dump, want) {
		t.Errorf("dump doesn't contain %q\n%s", want, dump)
	}
	if want, have := "job", entries[1].ContextMap()["scope"]; want != have {
		t.Errorf("scope: want %v, have %v", want, have)
	}

	buf, ok := reg.Lookup(mustContextID(t, ctx))
	if !ok {
		t.Fatalf("no buffer for context")
	}
	if want, have := 2, buf.Len(); want != have {
		t.Errorf("buffer len: want %d, have %d", want, have)
	}
}

func TestCoreNoContext(t *testing.T) {
	t.Parallel()

	reg := trclog.NewDefaultRegistry()
	obs, logs := observer.New(zapcore.InfoLevel)
	no := false
	logger := zap.New(trczap.NewCore(obs, reg, trczap.Config{RecordLogs: &no}))

	logger.Error("orphaned")

	entries := logs.All()
	if want, have := 1, len(entries); want != have {
		t.Fatalf("entries: want %d, have %d", want, have)
	}
	dump, _ := entries[0].ContextMap()[trclog.DumpKey].(string)
	for _, want := range []string{
		"=== trace " + trclog.FallbackID,
		trclog.NoTrace,
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump doesn't contain %q\n%s", want, dump)
		}
	}
}

func mustContextID(t *testing.T, ctx context.Context) string {
	t.Helper()
	id, ok := trclog.ContextID(ctx)
	if !ok {
		t.Fatalf("context has no ID")
	}
	return id
}
