// Package shared holds small cross-cutting helpers with no dependency
// on any other slipterm package: a context-carried trace id for
// correlating one connection's log lines, and a secret-redaction pass
// for text that crosses a trust boundary (the Telegram relay).
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// WithTraceID attaches a trace id to the context, so every log line
// emitted while handling one transport connection can be correlated
// without threading an explicit parameter through every call.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts the trace id from context, or "-" if none was set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a fresh trace id, one per transport connection.
func NewTraceID() string {
	return uuid.NewString()
}
