package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records routing and delivery metrics.
// Use NewMetricsRecorder for OTel metrics or NoopMetrics when disabled.
type MetricsRecorder interface {
	// RecordRoute records one message handed to the router.
	RecordRoute(ctx context.Context, pipeline, messageType string, targets int)

	// RecordUnknown records a message that matched no slot.
	RecordUnknown(ctx context.Context, pipeline, messageType string)

	// RecordDelivery records one delivery to a receiver.
	RecordDelivery(ctx context.Context, target, messageType string, duration time.Duration, err error)

	// RecordFault records a fault escalated to the pipeline.
	RecordFault(ctx context.Context, pipeline string, suppressed bool)
}

type otelMetrics struct {
	routeMessages   metric.Int64Counter
	routeUnknown    metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	deliveryErrors  metric.Int64Counter
	faults          metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter("typeflow")

	routeMessages, err := meter.Int64Counter("typeflow.route.messages",
		metric.WithDescription("Number of messages handed to the router"),
	)
	if err != nil {
		return nil, err
	}

	routeUnknown, err := meter.Int64Counter("typeflow.route.unknown",
		metric.WithDescription("Number of messages with no matching route"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("typeflow.delivery.count",
		metric.WithDescription("Number of deliveries to receivers"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("typeflow.delivery.latency_ms",
		metric.WithDescription("Receiver latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("typeflow.delivery.errors",
		metric.WithDescription("Number of failed deliveries"),
	)
	if err != nil {
		return nil, err
	}

	faults, err := meter.Int64Counter("typeflow.pipeline.faults",
		metric.WithDescription("Number of faults escalated to a pipeline"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		routeMessages:   routeMessages,
		routeUnknown:    routeUnknown,
		deliveries:      deliveries,
		deliveryLatency: deliveryLatency,
		deliveryErrors:  deliveryErrors,
		faults:          faults,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. Configure the provider first with otel.SetMeterProvider.
// If the instruments cannot be created, a no-op recorder is returned.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFor returns a MetricsRecorder bound to provider instead
// of the global one.
func NewMetricsRecorderFor(provider metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(provider)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordRoute(ctx context.Context, pipeline, messageType string, targets int) {
	m.routeMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("message_type", messageType),
		attribute.Int("targets", targets),
	))
}

func (m *otelMetrics) RecordUnknown(ctx context.Context, pipeline, messageType string) {
	m.routeUnknown.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("message_type", messageType),
	))
}

func (m *otelMetrics) RecordDelivery(ctx context.Context, target, messageType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("message_type", messageType),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.deliveryErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordFault(ctx context.Context, pipeline string, suppressed bool) {
	m.faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.Bool("suppressed", suppressed),
	))
}
