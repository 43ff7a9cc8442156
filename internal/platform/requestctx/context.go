// Package requestctx carries per-request values (logger, trace metadata)
// through context without leaking the keys to other packages.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// Unexported struct types guarantee key uniqueness across packages.
type loggerKey struct{}
type traceKey struct{}

var fallbackLogger = zap.NewNop()

// TraceInfo is the request's trace identity as parsed from incoming headers.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger returns a context carrying the request-scoped logger. A nil
// logger degrades to the shared no-op instance so callers never receive nil.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = fallbackLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request-scoped logger, or a no-op logger when the
// context carries none.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return fallbackLogger
	}
	logger, _ := ctx.Value(loggerKey{}).(*zap.Logger)
	if logger == nil {
		return fallbackLogger
	}
	return logger
}

// NoopLogger returns the shared discard logger.
func NoopLogger() *zap.Logger { return fallbackLogger }

// WithTrace returns a context carrying the request's trace metadata.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace reports the trace metadata and whether any was attached.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is a convenience accessor for the bare trace identifier; it returns
// the empty string when the context carries no trace.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
