// Package observe provides application-wide observability primitives for
// Lala: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware for the local ops endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lala metrics.
const meterName = "github.com/lalavoice/lala"

// Metrics holds all OpenTelemetry metric instruments for the assistant.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// CaptureDuration tracks command capture plus transcription latency.
	CaptureDuration metric.Float64Histogram

	// ProcessDuration tracks pipeline processing latency per turn.
	ProcessDuration metric.Float64Histogram

	// SpeakDuration tracks synthesis plus playback latency.
	SpeakDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency, wake to idle.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// WakeDetections counts wake-phrase hits. Use with attribute:
	//   attribute.String("accepted", "true"|"false")
	WakeDetections metric.Int64Counter

	// Intents counts classified commands. Use with attribute:
	//   attribute.String("intent", ...)
	Intents metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// MemoryWrites counts memory records appended. Use with attribute:
	//   attribute.String("kind", ...)
	MemoryWrites metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks turns in flight (0 or 1 under normal operation).
	ActiveTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops endpoint request time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("lala.capture.duration",
		metric.WithDescription("Latency of command capture and transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("lala.process.duration",
		metric.WithDescription("Latency of pipeline processing per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeakDuration, err = m.Float64Histogram("lala.speak.duration",
		metric.WithDescription("Latency of synthesis and playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("lala.turn.duration",
		metric.WithDescription("End-to-end turn latency, wake to idle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeDetections, err = m.Int64Counter("lala.wake.detections",
		metric.WithDescription("Total wake-phrase detections by acceptance."),
	); err != nil {
		return nil, err
	}
	if met.Intents, err = m.Int64Counter("lala.intents",
		metric.WithDescription("Total classified commands by intent type."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("lala.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lala.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.MemoryWrites, err = m.Int64Counter("lala.memory.writes",
		metric.WithDescription("Total memory records appended by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("lala.active_turns",
		metric.WithDescription("Number of conversational turns in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lala.http.request.duration",
		metric.WithDescription("Ops endpoint request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWakeDetection records one wake-phrase hit and whether a turn was
// started for it.
func (m *Metrics) RecordWakeDetection(ctx context.Context, accepted bool) {
	v := "false"
	if accepted {
		v = "true"
	}
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("accepted", v)),
	)
}

// RecordIntent records one classified command.
func (m *Metrics) RecordIntent(ctx context.Context, intentType string) {
	m.Intents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent", intentType)),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordMemoryWrite records one appended memory record.
func (m *Metrics) RecordMemoryWrite(ctx context.Context, kind string) {
	m.MemoryWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
