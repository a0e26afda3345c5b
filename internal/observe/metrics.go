// Package observe holds the metric instruments, the OpenTelemetry provider
// setup and the log handler shared by the vadlink commands.
//
// Components take a *Metrics explicitly; tests build one with [NewMetrics]
// over a manual reader, production code uses [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "vadlink"

// Metrics holds all instruments. The OTel types are safe for concurrent use.
type Metrics struct {
	// Capture side.
	FramesCaptured metric.Int64Counter
	CaptureErrors  metric.Int64Counter
	ClassifyErrors metric.Int64Counter
	FramesDropped  metric.Int64Counter
	SegmentsClosed metric.Int64Counter

	// Delivery side. PayloadsSent carries attribute "origin" = fresh|pending.
	PayloadsSent   metric.Int64Counter
	PayloadsFailed metric.Int64Counter
	PayloadsLost   metric.Int64Counter
	Retries        metric.Int64Counter
	PendingItems   metric.Int64Gauge
	SendDuration   metric.Float64Histogram

	// Receiver side.
	PayloadsReceived  metric.Int64Counter
	PayloadsTruncated metric.Int64Counter
	ActiveHandlers    metric.Int64UpDownCounter
}

// sendBuckets are in seconds; a send is one dial plus one write.
var sendBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesCaptured, "vadlink.frames.captured", "Frames delivered by the audio source."},
		{&met.CaptureErrors, "vadlink.capture.errors", "Frames reported with non-zero device status."},
		{&met.ClassifyErrors, "vadlink.classify.errors", "Frames the speech classifier rejected."},
		{&met.FramesDropped, "vadlink.frames.dropped", "Frames dropped because the capture queue was full."},
		{&met.SegmentsClosed, "vadlink.segments.closed", "Speech segments appended to the send buffer."},
		{&met.PayloadsSent, "vadlink.payloads.sent", "Payloads delivered to the receiver by origin."},
		{&met.PayloadsFailed, "vadlink.payloads.failed", "Fresh payloads whose delivery failed."},
		{&met.PayloadsLost, "vadlink.payloads.lost", "Payloads that could be neither sent nor persisted."},
		{&met.Retries, "vadlink.pending.retries", "Pending payload retransmission attempts."},
		{&met.PayloadsReceived, "vadlink.receiver.payloads", "Payloads accepted by the receiver."},
		{&met.PayloadsTruncated, "vadlink.receiver.truncated", "Payloads that arrived shorter than declared."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.PendingItems, err = m.Int64Gauge("vadlink.pending.items",
		metric.WithDescription("Payloads waiting in the pending store."),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("vadlink.send.duration",
		metric.WithDescription("Latency of one dial and write to the receiver."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveHandlers, err = m.Int64UpDownCounter("vadlink.receiver.active_handlers",
		metric.WithDescription("Connections currently being handled by the receiver."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instance built on the global meter
// provider. Call [InitProvider] first if the metrics should be exported.
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

// RecordSent counts a delivered payload.
func (m *Metrics) RecordSent(ctx context.Context, origin string) {
	m.PayloadsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}
