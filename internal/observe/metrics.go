// Package observe provides application-wide observability primitives for
// streamscribe: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all streamscribe
// metrics.
const meterName = "github.com/soniclane/streamscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscribeDuration tracks one recogniser inference call. Use with
	// attribute.String("backend", ...).
	TranscribeDuration metric.Float64Histogram

	// CommitLatency tracks the delay between the end of a word's audio and
	// the moment it was committed.
	CommitLatency metric.Float64Histogram

	// --- Counters ---

	// CommittedWords counts words appended to committed transcripts.
	CommittedWords metric.Int64Counter

	// AudioBytes counts raw PCM bytes accepted from clients.
	AudioBytes metric.Int64Counter

	// RecognizerErrors counts recogniser failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", "transient"|"unavailable")
	RecognizerErrors metric.Int64Counter

	// BufferTrims counts audio-buffer trim operations. Use with attribute:
	//   attribute.String("reason", "vad"|"segment"|"sentence"|"forced")
	BufferTrims metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live client sessions.
	ActiveSessions metric.Int64UpDownCounter

	// BufferSeconds tracks the current audio-buffer length across sessions.
	BufferSeconds metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-transcription latencies.
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
	if met.TranscribeDuration, err = m.Float64Histogram("streamscribe.transcribe.duration",
		metric.WithDescription("Latency of one recogniser inference call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommitLatency, err = m.Float64Histogram("streamscribe.commit.latency",
		metric.WithDescription("Delay between the end of a word's audio and its commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BufferSeconds, err = m.Float64Histogram("streamscribe.buffer.seconds",
		metric.WithDescription("Audio-buffer length observed after each engine iteration."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CommittedWords, err = m.Int64Counter("streamscribe.committed.words",
		metric.WithDescription("Words appended to committed transcripts."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("streamscribe.audio.bytes",
		metric.WithDescription("Raw PCM bytes accepted from clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.RecognizerErrors, err = m.Int64Counter("streamscribe.recognizer.errors",
		metric.WithDescription("Recogniser failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.BufferTrims, err = m.Int64Counter("streamscribe.buffer.trims",
		metric.WithDescription("Audio-buffer trim operations by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamscribe.sessions.active",
		metric.WithDescription("Live client sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance backed by the
// global OTel meter provider. Instruments are created on first use, after
// [InitProvider] has normally run.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Instrument creation only fails on malformed names, which is a
			// programming error caught by tests.
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
