package main

import (
	"context"
	"log/slog"

	"go.uber.org/zap"

	"github.com/peterbourgon/trclog/trczap"
)

// reporter is the host logger, as seen by the workloads.
type reporter interface {
	Debug(ctx context.Context, msg string, kvs ...any)
	Info(ctx context.Context, msg string, kvs ...any)
	Error(ctx context.Context, msg string, err error, kvs ...any)
	Sync() error
}

type slogReporter struct {
	logger *slog.Logger
}

func (r *slogReporter) Debug(ctx context.Context, msg string, kvs ...any) {
	r.logger.DebugContext(ctx, msg, kvs...)
}

func (r *slogReporter) Info(ctx context.Context, msg string, kvs ...any) {
	r.logger.InfoContext(ctx, msg, kvs...)
}

func (r *slogReporter) Error(ctx context.Context, msg string, err error, kvs ...any) {
	r.logger.ErrorContext(ctx, msg, append(kvs, "err", err)...)
}

func (r *slogReporter) Sync() error {
	return nil
}

type zapReporter struct {
	logger *zap.Logger
}

func (r *zapReporter) Debug(ctx context.Context, msg string, kvs ...any) {
	r.logger.Debug(msg, zapFields(ctx, kvs)...)
}

func (r *zapReporter) Info(ctx context.Context, msg string, kvs ...any) {
	r.logger.Info(msg, zapFields(ctx, kvs)...)
}

func (r *zapReporter) Error(ctx context.Context, msg string, err error, kvs ...any) {
	r.logger.Error(msg, append(zapFields(ctx, kvs), zap.Error(err))...)
}

func (r *zapReporter) Sync() error {
	return r.logger.Sync()
}

// zapFields converts alternating keys and values to zap fields, along with a
// field for the execution context of ctx.
func zapFields(ctx context.Context, kvs []any) []zap.Field {
	fields := make([]zap.Field, 0, len(kvs)/2+2)
	fields = append(fields, trczap.Context(ctx))
	for i := 0; i+1 < len(kvs); i += 2 {
		key, ok := kvs[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		fields = append(fields, zap.Any(key, kvs[i+1]))
	}
	return fields
}
