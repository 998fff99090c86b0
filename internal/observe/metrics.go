// Package observe provides application-wide observability primitives for
// voxtap: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all voxtap metrics.
const meterName = "github.com/MrWong99/voxtap"

// Recording outcomes used with [Metrics.RecordRecording].
const (
	OutcomeCompleted  = "completed"
	OutcomeForced     = "forced"
	OutcomeDiscarded  = "discarded"
	OutcomeSuperseded = "superseded"
	OutcomeBusySkip   = "busy_skip"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text upload and recognition latency.
	STTDuration metric.Float64Histogram

	// RecordingDuration tracks the audio length of finished recordings.
	RecordingDuration metric.Float64Histogram

	// --- Capture counters ---

	// FramesCaptured counts frames published by the capture producer.
	FramesCaptured metric.Int64Counter

	// FrameOverruns counts frames dropped because the transport ring was full.
	FrameOverruns metric.Int64Counter

	// DMAErrors counts transfer error callbacks from the audio hardware.
	DMAErrors metric.Int64Counter

	// --- Pipeline counters ---

	// VADFrames counts classified frames. Use with attribute:
	//   attribute.Bool("speech", ...)
	VADFrames metric.Int64Counter

	// Recordings counts recorder outcomes. Use with attribute:
	//   attribute.String("outcome", ...)
	Recordings metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// UploaderBusy is 1 while a recording is being uploaded, 0 otherwise.
	UploaderBusy metric.Int64UpDownCounter

	// DisplayClients tracks connected status websocket clients.
	DisplayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for network
// recognition latency.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30,
}

// recordingBuckets defines histogram bucket boundaries (in seconds) for the
// length of captured utterances.
var recordingBuckets = []float64{
	0.3, 0.5, 0.75, 1, 1.25, 1.5, 2, 3, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voxtap.stt.duration",
		metric.WithDescription("Latency of speech-to-text upload and recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("voxtap.recording.duration",
		metric.WithDescription("Audio length of finished recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Capture counters.
	if met.FramesCaptured, err = m.Int64Counter("voxtap.capture.frames",
		metric.WithDescription("Total frames published by the capture producer."),
	); err != nil {
		return nil, err
	}
	if met.FrameOverruns, err = m.Int64Counter("voxtap.capture.overruns",
		metric.WithDescription("Total frames dropped because the transport ring was full."),
	); err != nil {
		return nil, err
	}
	if met.DMAErrors, err = m.Int64Counter("voxtap.capture.dma_errors",
		metric.WithDescription("Total audio transfer errors."),
	); err != nil {
		return nil, err
	}

	// Pipeline counters.
	if met.VADFrames, err = m.Int64Counter("voxtap.vad.frames",
		metric.WithDescription("Total classified frames by speech decision."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("voxtap.recordings",
		metric.WithDescription("Total recorder outcomes by outcome."),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("voxtap.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxtap.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.UploaderBusy, err = m.Int64UpDownCounter("voxtap.uploader.busy",
		metric.WithDescription("1 while a recording is being uploaded."),
	); err != nil {
		return nil, err
	}
	if met.DisplayClients, err = m.Int64UpDownCounter("voxtap.display.clients",
		metric.WithDescription("Number of connected status websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtap.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVADFrame counts one classified frame.
func (m *Metrics) RecordVADFrame(ctx context.Context, speech bool) {
	m.VADFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech", speech)))
}

// RecordRecording counts one recorder outcome. seconds is recorded into
// [Metrics.RecordingDuration] for the completed and forced outcomes.
func (m *Metrics) RecordRecording(ctx context.Context, outcome string, seconds float64) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == OutcomeCompleted || outcome == OutcomeForced {
		m.RecordingDuration.Record(ctx, seconds)
	}
}
