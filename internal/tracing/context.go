package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	RunIDKey     ContextKey = "run_id"
	SessionIDKey ContextKey = "session_id"
	StepKey      ContextKey = "step"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// NewSessionID returns a fresh id for a run that was started without one.
func NewSessionID() string {
	return "sess-" + uuid.New().String()[:8]
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithStep(ctx context.Context, step int) context.Context {
	return context.WithValue(ctx, StepKey, step)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(RunIDKey).(string)
	return v
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

// GetStep returns the current step number, or 0 outside a step.
func GetStep(ctx context.Context) int {
	v, _ := ctx.Value(StepKey).(int)
	return v
}

// NewRunContext tags ctx with the session and a fresh run ID. A trace ID is
// created when the caller did not bring one.
func NewRunContext(ctx context.Context, sessionID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	return WithSessionID(ctx, sessionID)
}

// LoggerFromContext returns base enriched with whatever tracing fields ctx carries.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if v := GetTraceID(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := GetRunID(ctx); v != "" {
		lc = lc.Str("run_id", v)
	}
	if v := GetSessionID(ctx); v != "" {
		lc = lc.Str("session_id", v)
	}
	if v := GetStep(ctx); v > 0 {
		lc = lc.Int("step", v)
	}
	return lc.Logger()
}
