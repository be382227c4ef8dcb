package logger

import "context"

type contextKey struct{}

// WithLogger attaches l to ctx. Sessions and handlers log through the
// logger found on their context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger attached to ctx, falling back to a text
// logger on stderr.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(Logger); ok {
			return l
		}
	}
	return defaultLogger
}

func Debug(ctx context.Context, msg string, tags ...any) { FromContext(ctx).Debug(msg, tags...) }
func Info(ctx context.Context, msg string, tags ...any)  { FromContext(ctx).Info(msg, tags...) }
func Warn(ctx context.Context, msg string, tags ...any)  { FromContext(ctx).Warn(msg, tags...) }
func Error(ctx context.Context, msg string, tags ...any) { FromContext(ctx).Error(msg, tags...) }
