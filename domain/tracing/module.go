// Package tracing installs the OpenTelemetry tracer provider for the process.
// Spans themselves are created through pkg/tracing.
package tracing

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/deepsoumya617/shoply/internal/config"
	"github.com/deepsoumya617/shoply/internal/server"
	"github.com/deepsoumya617/shoply/internal/version"
	"github.com/deepsoumya617/shoply/pkg/logger"
)

var Module = fx.Module("tracing",
	fx.Provide(NewProvider),
	fx.Invoke(RegisterLifecycle),
	fx.Invoke(RegisterEchoMiddleware),
)

// Provider owns the SDK tracer provider. sdk is nil when export is disabled.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p.sdk != nil }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// NewProvider registers the global tracer provider: OTLP over HTTP when an
// endpoint is configured, a no-op provider otherwise.
func NewProvider(cfg *config.Config, log *slog.Logger) (*Provider, error) {
	oc := cfg.Otel
	log = log.With(logger.Scope("tracing"))

	if !oc.Enabled() {
		log.Info("tracing disabled", slog.String("reason", "OTEL_EXPORTER_OTLP_ENDPOINT not set"))
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	exp, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpointURL(oc.ExporterEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(oc.ServiceName),
			semconv.ServiceVersion(version.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		log.Warn("resource detection failed, exporting without it", logger.Error(err))
		res = resource.Empty()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(oc.SamplingRate)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing enabled",
		slog.String("endpoint", oc.ExporterEndpoint),
		slog.String("service", oc.ServiceName),
		slog.Float64("sampling_rate", oc.SamplingRate))
	return &Provider{sdk: tp}, nil
}

// samplerFor follows the caller's sampling decision and samples root spans
// at rate.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// RegisterLifecycle flushes spans on shutdown.
func RegisterLifecycle(lc fx.Lifecycle, p *Provider) {
	lc.Append(fx.Hook{
		OnStop: p.Shutdown,
	})
}

// RegisterEchoMiddleware traces ops requests other than probes.
func RegisterEchoMiddleware(e *echo.Echo, p *Provider, cfg *config.Config) {
	if !p.Enabled() {
		return
	}
	e.Use(otelecho.Middleware(cfg.Otel.ServiceName,
		otelecho.WithSkipper(func(c echo.Context) bool {
			return server.IsProbe(c.Request().URL.Path)
		}),
	))
}
