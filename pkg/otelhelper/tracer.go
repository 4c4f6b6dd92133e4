// Package otelhelper provides distributed tracing for ticks, jobs and webhook dispatch.
package otelhelper

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by spans and resources.
const (
	AutomationIDKey   = "creatye.automation.id"
	VersionIDKey      = "creatye.version.id"
	ExecutionIDKey    = "creatye.execution.id"
	JobIDKey          = "creatye.job.id"
	NodeIDKey         = "creatye.node.id"
	NodeTypeKey       = "creatye.node.type"
	InboundEventIDKey = "creatye.inbound_event.id"
	ChannelKey        = "creatye.channel"
	WorkerIDKey       = "creatye.worker.id"
)

type Config struct {
	ServiceName string
	// SampleRatio is the fraction of root traces kept. Children follow their parent.
	SampleRatio float64
	// Attributes are added to the resource of every span.
	Attributes []attribute.KeyValue
}

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(ctx context.Context) error

// NewTracer installs a global tracer provider exporting over OTLP/HTTP. The exporter reads
// its endpoint from the standard OTEL_EXPORTER_OTLP_* environment variables.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, config Config) (trace.Tracer, Shutdown, error) {
	if config.ServiceName == "" {
		return nil, nil, errors.New("service name is required")
	}

	provider, err := newTracerProvider(ctx, config)
	if err != nil {
		return nil, nil, err
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return provider.Tracer(config.ServiceName), provider.Shutdown, nil
}

func newTracerProvider(ctx context.Context, config Config) (*sdktrace.TracerProvider, error) {
	attrs := append([]attribute.KeyValue{semconv.ServiceName(config.ServiceName)}, config.Attributes...)

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sampler(config.SampleRatio)),
	), nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
