// Package logger holds the process-wide zerolog logger.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

var Logger = zerolog.Nop()

// Init builds the global logger. Development mode writes human-readable
// console lines instead of JSON.
func Init(serviceName string, isDevelopment bool) {
	InitWriter(serviceName, isDevelopment, os.Stdout)
}

func InitWriter(serviceName string, isDevelopment bool, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := out
	if isDevelopment {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	log.Logger = Logger
}

// WithContext returns the global logger annotated with the trace and span ids
// of the span carried by ctx, if any.
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Logger.With().Logger()
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		l = l.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}
	return &l
}

func Info(ctx context.Context) *zerolog.Event  { return WithContext(ctx).Info() }
func Warn(ctx context.Context) *zerolog.Event  { return WithContext(ctx).Warn() }
func Error(ctx context.Context) *zerolog.Event { return WithContext(ctx).Error() }
func Debug(ctx context.Context) *zerolog.Event { return WithContext(ctx).Debug() }

func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
