package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the global zerolog logger.
func Setup(level string, isLocalDev bool) {
	// Use Unix timestamps for performance and consistency
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if isLocalDev {
		// Pretty printing for local development
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		if lvl > zerolog.DebugLevel {
			lvl = zerolog.DebugLevel
		}
	}
	zerolog.SetGlobalLevel(lvl)

	// log.Ctx falls back to the global logger for contexts that carry none.
	zerolog.DefaultContextLogger = &log.Logger
}

// EnrichContextWithLogger adds a zerolog logger to the context with trace information.
func EnrichContextWithLogger(ctx context.Context) context.Context {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ctx
	}

	sCtx := span.SpanContext()
	if !sCtx.HasTraceID() {
		return ctx
	}

	l := logFrom(ctx).With().
		Str("trace_id", sCtx.TraceID().String()).
		Str("span_id", sCtx.SpanID().String()).
		Logger()

	return l.WithContext(ctx)
}

// NewCycleID returns a short correlation id for one sync cycle.
func NewCycleID() string {
	return uuid.New().String()[:8]
}

// WithCycleID attaches a logger carrying the sync cycle id to ctx.
func WithCycleID(ctx context.Context, id string) context.Context {
	l := logFrom(ctx).With().Str("cycle_id", id).Logger()
	return l.WithContext(ctx)
}

// WithFields attaches a logger carrying the given string fields to ctx.
func WithFields(ctx context.Context, kv map[string]string) context.Context {
	c := logFrom(ctx).With()
	for k, v := range kv {
		c = c.Str(k, v)
	}
	l := c.Logger()
	return l.WithContext(ctx)
}

// logFrom returns the context logger, falling back to the global one when
// ctx carries none.
func logFrom(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l == zerolog.DefaultContextLogger || l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}
	return l
}
