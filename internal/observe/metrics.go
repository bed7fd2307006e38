// Package observe provides application-wide observability primitives for
// Voxgate: OpenTelemetry metrics, tracing, and the Prometheus bridge that
// exposes them on /metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxgate metrics.
const meterName = "github.com/voxgate/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the gateway. All
// fields are safe for concurrent use.
type Metrics struct {
	// CallDuration tracks total call length from Stasis entry to cleanup.
	CallDuration metric.Float64Histogram

	// FirstResponseDelay tracks the time from session activation to the
	// first synthesized audio chunk of a response.
	FirstResponseDelay metric.Float64Histogram

	// CallsStarted counts calls entering the gateway.
	CallsStarted metric.Int64Counter

	// CallsEnded counts calls leaving the gateway. Use with attribute:
	//   attribute.String("reason", ...)
	CallsEnded metric.Int64Counter

	// ToolCalls counts model tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SessionErrors counts fatal inference-session errors.
	SessionErrors metric.Int64Counter

	// PlaybackFailures counts playbacks the PBX failed to start.
	PlaybackFailures metric.Int64Counter

	// DTMFInteractions counts finalized DTMF collections. Use with attribute:
	//   attribute.String("cause", ...)
	DTMFInteractions metric.Int64Counter

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter
}

// callBuckets defines histogram bucket boundaries (in seconds) sized for
// telephony calls.
var callBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600, 1800,
}

// responseBuckets defines histogram bucket boundaries (in seconds) sized
// for model response latency.
var responseBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallDuration, err = m.Float64Histogram("voxgate.call.duration",
		metric.WithDescription("Call length from Stasis entry to cleanup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstResponseDelay, err = m.Float64Histogram("voxgate.response.first_audio_delay",
		metric.WithDescription("Time from session activation to first synthesized audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(responseBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CallsStarted, err = m.Int64Counter("voxgate.calls.started",
		metric.WithDescription("Total calls entering the gateway."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("voxgate.calls.ended",
		metric.WithDescription("Total calls leaving the gateway by end reason."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxgate.tool.calls",
		metric.WithDescription("Total model tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxgate.session.errors",
		metric.WithDescription("Total fatal inference-session errors."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("voxgate.playback.failures",
		metric.WithDescription("Total playbacks the PBX failed to start."),
	); err != nil {
		return nil, err
	}
	if met.DTMFInteractions, err = m.Int64Counter("voxgate.dtmf.interactions",
		metric.WithDescription("Total finalized DTMF collections by cause."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("voxgate.active_calls",
		metric.WithDescription("Number of live calls."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCallEnded increments the ended counter and records the call
// duration in one step.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string, duration time.Duration) {
	m.CallsEnded.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
	m.CallDuration.Record(ctx, duration.Seconds())
	m.ActiveCalls.Add(ctx, -1)
}

// RecordCallStarted increments the started counter and the active-calls
// gauge.
func (m *Metrics) RecordCallStarted(ctx context.Context) {
	m.CallsStarted.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
}

// RecordDTMF counts one finalized DTMF collection.
func (m *Metrics) RecordDTMF(ctx context.Context, cause string) {
	m.DTMFInteractions.Add(ctx, 1, metric.WithAttributes(Attr("cause", cause)))
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
}
