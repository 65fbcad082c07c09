// Package observe holds the OpenTelemetry instruments of the hullwatch pipeline.
//
// Metrics are recorded through the OTel Metrics API and exposed to Prometheus
// by [InitProvider]. Tests should build instruments with [NewMetrics] on their
// own [metric.MeterProvider] instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all hullwatch metrics.
const meterName = "github.com/teslashibe/go-hullwatch"

// Metrics holds the pipeline instruments. Safe for concurrent use.
type Metrics struct {
	// FramesRead counts frames pulled from the capture source.
	FramesRead metric.Int64Counter

	// FramesProcessed counts frames admitted by the gating policy.
	FramesProcessed metric.Int64Counter

	// Detections counts target boxes found.
	Detections metric.Int64Counter

	// AdapterErrors counts failed detector/recognizer calls. Attribute "adapter".
	AdapterErrors metric.Int64Counter

	// Dispatches counts collector attempts. Attributes "kind" and "outcome".
	Dispatches metric.Int64Counter

	// ProcessDuration tracks detector + recognizer time per processed frame.
	ProcessDuration metric.Float64Histogram

	// DispatchDuration tracks collector round trips.
	DispatchDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesRead, err = m.Int64Counter("hullwatch.frames.read",
		metric.WithDescription("Frames read from the capture source."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("hullwatch.frames.processed",
		metric.WithDescription("Frames admitted by the gating policy."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("hullwatch.detections",
		metric.WithDescription("Target-class boxes detected."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("hullwatch.adapter.errors",
		metric.WithDescription("Detector or recognizer failures."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("hullwatch.dispatches",
		metric.WithDescription("Collector dispatch attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("hullwatch.process.duration",
		metric.WithDescription("Latency of frame processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("hullwatch.dispatch.duration",
		metric.WithDescription("Latency of collector requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global MeterProvider.
// Call InitProvider first so they are exported.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordAdapterError counts a failed adapter call.
func (m *Metrics) RecordAdapterError(ctx context.Context, adapter string) {
	m.AdapterErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("adapter", adapter)),
	)
}

// RecordDispatch counts one collector attempt and its latency.
func (m *Metrics) RecordDispatch(ctx context.Context, kind, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.Dispatches.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, seconds, attrs)
}
