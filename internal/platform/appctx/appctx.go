// Package appctx carries request-scoped values, chiefly the logger, through
// a context.
package appctx

import (
	"context"
	"log/slog"

	"github.com/Monas-project/Prot-Prototype/internal/platform/logutil"
)

type loggerKey struct{}

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the attached logger, if any.
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, ok && l != nil
}

// Logger returns the attached logger, else fallback, else a discard logger.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := LoggerFromContext(ctx); ok {
		return l
	}
	return logutil.NoopIfNil(fallback)
}
