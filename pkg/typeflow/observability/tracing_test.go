package observability

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
	"go.opentelemetry.io/otel/trace"
)

func setupTracingTest(t *testing.T) (SpanManager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down tracer provider: %v", err)
		}
	})
	return NewSpanManagerFor(tp), exporter
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartRouteSpan(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	_, span := sm.StartRouteSpan(context.Background(), "orders", "int", 3)
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "typeflow.route", s.Name)
	assert.Equal(t, codes.Ok, s.Status.Code)

	v, ok := attrValue(s.Attributes, "message.type")
	require.True(t, ok)
	assert.Equal(t, "int", v.AsString())
	v, ok = attrValue(s.Attributes, "message.depth")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
}

// TestDeliverySpanIsChildOfRoute tests span parenting across a delivery.
func TestDeliverySpanIsChildOfRoute(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	ctx, route := sm.StartRouteSpan(context.Background(), "orders", "int", 0)
	_, deliver := sm.StartDeliverySpan(ctx, "*main.Sink")
	sm.EndSpanWithError(deliver, errors.New("boom"))
	sm.EndSpanWithError(route, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	d, r := spans[0], spans[1]
	assert.Equal(t, "typeflow.deliver.*main.Sink", d.Name)
	assert.Equal(t, r.SpanContext.SpanID(), d.Parent.SpanID())
	assert.Equal(t, codes.Error, d.Status.Code)
	assert.Equal(t, "boom", d.Status.Description)
	require.NotEmpty(t, d.Events)
	assert.Equal(t, "exception", d.Events[0].Name)
}

func TestAddSpanEvent(t *testing.T) {
	sm, exporter := setupTracingTest(t)

	ctx, span := sm.StartRouteSpan(context.Background(), "orders", "int", 0)
	sm.AddSpanEvent(ctx, "unknown", attribute.String("sender", "x"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "unknown", spans[0].Events[0].Name)

	// No span in context is fine.
	assert.NotPanics(t, func() { AddSpanEvent(context.Background(), "nothing") })
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartRouteSpan(ctx, "p", "t", 0)
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	got, span = sm.StartDeliverySpan(ctx, "x")
	assert.Equal(t, ctx, got)
	assert.False(t, trace.SpanContextFromContext(got).IsValid())
	sm.EndSpanWithError(span, errors.New("ignored"))
	sm.AddSpanEvent(ctx, "ignored")
}

func TestEndSpanWithError_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
}
