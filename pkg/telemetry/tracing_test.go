package telemetry

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInjectAndExtractTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, parent := tp.Tracer("test").Start(context.Background(), "push_request")
	attrs := InjectTraceContext(ctx)
	parent.End()

	require.Contains(t, attrs, "traceparent")

	msg := types.Message{
		MessageId:         aws.String("m-1"),
		Body:              aws.String(`{"serialNumber":"CJDE2210","records":[]}`),
		MessageAttributes: attrs,
	}
	ctx, span := StartSpanFromSQSMessage(context.Background(), msg)
	defer span.End()

	assert.Equal(t, parent.SpanContext().TraceID(), span.SpanContext().TraceID())
	assert.Equal(t, "CJDE2210", GetSerialNumberFromContext(ctx))
}

func TestInitTracer_NoEndpointOutsideLocalDev(t *testing.T) {
	shutdown, err := InitTracer("attendance-bridge", "", false)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
