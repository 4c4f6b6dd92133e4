package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, ok := StartSpan(context.Background(), tracer, "ok", attribute.String(JobIDKey, "job-1"))
	SetError(ok, nil)
	ok.End()

	_, failed := StartSpan(context.Background(), tracer, "failed")
	SetError(failed, errors.New("delivery failed"), attribute.String(NodeIDKey, "message-1"))
	failed.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(JobIDKey, "job-1"))
	assert.Empty(t, spans[0].Events())

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "delivery failed", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Contains(t, spans[1].Events()[0].Attributes, attribute.String(NodeIDKey, "message-1"))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio    float64
		contains string
	}{
		{0, "AlwaysOffSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		assert.Contains(t, sampler(tt.ratio).Description(), tt.contains)
	}
}

func TestNewTracer_RequiresServiceName(t *testing.T) {
	_, _, err := NewTracer(context.Background(), Config{})
	assert.Error(t, err)
}
