// Package observe provides application-wide observability primitives for
// the call broker: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all call broker
// metrics.
const meterName = "github.com/MrWong99/callbroker"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks per-utterance speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks coaching and intelligence-extraction LLM inference
	// latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks coaching-suggestion audio synthesis latency.
	TTSDuration metric.Float64Histogram

	// CallDuration tracks total call duration, recorded once the call ends.
	CallDuration metric.Float64Histogram

	// URLScanDuration tracks URL-reputation probe latency.
	URLScanDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CallsEnded counts completed calls by end reason. Use with attribute:
	//   attribute.String("reason", ...)
	CallsEnded metric.Int64Counter

	// CoachingSuggestions counts coaching suggestions surfaced to the
	// operator. Use with attribute:
	//   attribute.String("strategy", ...)
	CoachingSuggestions metric.Int64Counter

	// EntitiesExtracted counts newly observed intelligence entities. Use
	// with attributes:
	//   attribute.String("type", ...), attribute.String("source", ...)
	EntitiesExtracted metric.Int64Counter

	// TacticsDetected counts newly observed threat tactics. Use with
	// attribute:
	//   attribute.String("tactic", ...)
	TacticsDetected metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of currently active calls.
	ActiveCalls metric.Int64UpDownCounter

	// ActiveLegs tracks the number of currently attached call legs across
	// all active calls.
	ActiveLegs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callDurationBuckets defines histogram bucket boundaries (in seconds) for
// whole-call duration, which runs orders of magnitude longer than a single
// pipeline stage.
var callDurationBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("callbroker.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("callbroker.llm.duration",
		metric.WithDescription("Latency of coaching and intelligence-extraction LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("callbroker.tts.duration",
		metric.WithDescription("Latency of coaching-suggestion audio synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("callbroker.call.duration",
		metric.WithDescription("Total duration of a call from forming to ended."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.URLScanDuration, err = m.Float64Histogram("callbroker.urlscan.duration",
		metric.WithDescription("Latency of URL-reputation probes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("callbroker.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("callbroker.calls.ended",
		metric.WithDescription("Total calls ended by reason."),
	); err != nil {
		return nil, err
	}
	if met.CoachingSuggestions, err = m.Int64Counter("callbroker.coaching.suggestions",
		metric.WithDescription("Total coaching suggestions surfaced to the operator by strategy."),
	); err != nil {
		return nil, err
	}
	if met.EntitiesExtracted, err = m.Int64Counter("callbroker.intel.entities",
		metric.WithDescription("Total newly observed intelligence entities by type and source."),
	); err != nil {
		return nil, err
	}
	if met.TacticsDetected, err = m.Int64Counter("callbroker.intel.tactics",
		metric.WithDescription("Total newly observed threat tactics."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("callbroker.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("callbroker.active_calls",
		metric.WithDescription("Number of currently active calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLegs, err = m.Int64UpDownCounter("callbroker.active_legs",
		metric.WithDescription("Number of currently attached call legs across all active calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callbroker.http.request.duration",
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

// RecordCallEnded is a convenience method that records a call-ended counter
// increment and the call's total duration.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string, duration float64) {
	m.CallsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.CallDuration.Record(ctx, duration)
}

// RecordCoachingSuggestion is a convenience method that records a coaching
// suggestion counter increment.
func (m *Metrics) RecordCoachingSuggestion(ctx context.Context, strategy string) {
	m.CoachingSuggestions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordEntityExtracted is a convenience method that records an
// entity-extracted counter increment.
func (m *Metrics) RecordEntityExtracted(ctx context.Context, entityType, source string) {
	m.EntitiesExtracted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", entityType),
			attribute.String("source", source),
		),
	)
}

// RecordTacticDetected is a convenience method that records a
// tactic-detected counter increment.
func (m *Metrics) RecordTacticDetected(ctx context.Context, tactic string) {
	m.TacticsDetected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tactic", tactic)),
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
