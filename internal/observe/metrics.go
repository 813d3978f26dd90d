// Package observe provides observability primitives for voxloop:
// OpenTelemetry metrics and tracing with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to
// avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxloop metrics.
const meterName = "github.com/voxkit/voxloop"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use.
type Metrics struct {
	// STTDuration tracks the transcription round-trip latency.
	STTDuration metric.Float64Histogram

	// TTSFetchDuration tracks per-chunk synthesis fetch+decode latency.
	TTSFetchDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each turn's playback lasted.
	PlaybackDuration metric.Float64Histogram

	// Turns counts completed conversational turns. Use with attribute:
	//   attribute.String("mode", "handsfree"|"manual")
	Turns metric.Int64Counter

	// ProviderErrors counts collaborator failures. Use with attribute:
	//   attribute.String("kind", "stt"|"tts")
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of live bridge sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("voxloop.stt.duration",
		metric.WithDescription("Latency of the transcription round-trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFetchDuration, err = m.Float64Histogram("voxloop.tts.fetch.duration",
		metric.WithDescription("Latency of per-chunk synthesis fetch and decode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxloop.playback.duration",
		metric.WithDescription("Duration of each turn's playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("voxloop.turns",
		metric.WithDescription("Completed conversational turns by mode."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxloop.provider.errors",
		metric.WithDescription("Collaborator failures by kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxloop.sessions.active",
		metric.WithDescription("Number of live bridge sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordTurn records a completed conversational turn.
func (m *Metrics) RecordTurn(ctx context.Context, mode string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordProviderError records a collaborator failure.
func (m *Metrics) RecordProviderError(ctx context.Context, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
