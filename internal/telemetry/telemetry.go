package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ggonzalez94/yieldmove/internal/config"
	"github.com/ggonzalez94/yieldmove/internal/version"
)

const instrumentationName = "github.com/ggonzalez94/yieldmove"

// NewLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine readable.
func NewLogger(settings config.LogSettings) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(settings.Level) != "" {
		if err := level.UnmarshalText([]byte(settings.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", settings.Level, err)
		}
	}

	var cfg zap.Config
	if strings.EqualFold(settings.Format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("version", version.CLIVersion)), nil
}

// InitTracer installs a global OTLP/HTTP tracer provider when an endpoint is
// configured. The returned func flushes and shuts it down.
func InitTracer(ctx context.Context, settings config.TracingSettings, logger *zap.Logger) func() {
	if strings.TrimSpace(settings.Endpoint) == "" {
		return func() {}
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(settings.Endpoint)}
	if settings.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		return func() {}
	}

	hostname, _ := os.Hostname()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(version.CLIName),
			semconv.ServiceVersion(version.CLIVersion),
			semconv.HostName(hostname),
		)),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Tracer returns a named tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}
