// Package observe records voicegate metrics through the OpenTelemetry API.
//
// Tests should build a Metrics with NewMetrics and a ManualReader-backed
// provider; production code uses InitProvider and DefaultMetrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/GriffinCanCode/voicegate"

// Metrics holds the metric instruments. Safe for concurrent use.
type Metrics struct {
	FramesProcessed   metric.Int64Counter
	FramesTransmitted metric.Int64Counter
	BytesTransmitted  metric.Int64Counter

	// CaptureTransitions uses attribute "to".
	CaptureTransitions metric.Int64Counter

	// SessionsStopped uses attribute "reason".
	SessionsStopped metric.Int64Counter

	Transcriptions metric.Int64Counter

	// ConnectDuration uses attribute "outcome".
	ConnectDuration metric.Float64Histogram

	ActiveSessions metric.Int64UpDownCounter
}

var connectBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("voicegate.frames.processed",
		metric.WithDescription("Audio frames analysed by the activity gate."),
	); err != nil {
		return nil, err
	}
	if met.FramesTransmitted, err = m.Int64Counter("voicegate.frames.transmitted",
		metric.WithDescription("Audio frames sent to the speech service."),
	); err != nil {
		return nil, err
	}
	if met.BytesTransmitted, err = m.Int64Counter("voicegate.bytes.transmitted",
		metric.WithDescription("PCM bytes sent to the speech service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CaptureTransitions, err = m.Int64Counter("voicegate.capture.transitions",
		metric.WithDescription("Capture state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStopped, err = m.Int64Counter("voicegate.sessions.stopped",
		metric.WithDescription("Sessions ended by stop reason."),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("voicegate.transcriptions",
		metric.WithDescription("Transcriptions received from the speech service."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voicegate.connect.duration",
		metric.WithDescription("Time to open the speech service connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicegate.sessions.active",
		metric.WithDescription("Sessions currently listening."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordFrame counts one processed frame and, if sent, its bytes.
func (m *Metrics) RecordFrame(ctx context.Context, sentBytes int) {
	m.FramesProcessed.Add(ctx, 1)
	if sentBytes > 0 {
		m.FramesTransmitted.Add(ctx, 1)
		m.BytesTransmitted.Add(ctx, int64(sentBytes))
	}
}

// RecordTransition counts a capture state change.
func (m *Metrics) RecordTransition(ctx context.Context, to string) {
	m.CaptureTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordConnect observes a connect attempt.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ConnectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStop counts a finished session.
func (m *Metrics) RecordStop(ctx context.Context, reason string) {
	m.SessionsStopped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a Metrics built on the global MeterProvider.
// Call InitProvider first to route them to the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
