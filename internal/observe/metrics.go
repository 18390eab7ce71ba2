// Package observe holds the OpenTelemetry instruments of the voice pipeline
// and the optional Prometheus exporter used to scrape them.
//
// Components take a *Metrics at construction. Tests should build one with
// [NewMetrics] over a ManualReader-backed provider; production code uses the
// provider installed by [InitProvider] through [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voxlink"

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	// FramesSent counts capture frames handed to the primary socket.
	FramesSent metric.Int64Counter
	// FramesSuppressed counts capture windows discarded because the mic is muted.
	FramesSuppressed metric.Int64Counter
	// FramesDropped counts frames dropped because the primary socket was not connected.
	FramesDropped metric.Int64Counter

	// ChunksPlayed counts playback chunks that finished or were interrupted
	// without a device failure.
	ChunksPlayed metric.Int64Counter
	// ChunksSkipped counts chunks that were empty, malformed or lost to a
	// failing device.
	// Use with attribute.String("reason", ...).
	ChunksSkipped metric.Int64Counter
	// Interruptions counts playback interruptions.
	Interruptions metric.Int64Counter
	// PlaybackDuration tracks how long each chunk sounded.
	PlaybackDuration metric.Float64Histogram

	// Events counts inbound primary events by attribute.String("type", ...).
	Events metric.Int64Counter
	// TranscriptReconnects counts transcript socket reconnection attempts.
	TranscriptReconnects metric.Int64Counter
}

var chunkBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("voxlink.capture.frames_sent",
		metric.WithDescription("Capture frames sent on the primary socket."),
	); err != nil {
		return nil, err
	}
	if met.FramesSuppressed, err = m.Int64Counter("voxlink.capture.frames_suppressed",
		metric.WithDescription("Capture windows discarded while muted."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxlink.primary.frames_dropped",
		metric.WithDescription("Capture frames dropped while the primary socket was not connected."),
	); err != nil {
		return nil, err
	}
	if met.ChunksPlayed, err = m.Int64Counter("voxlink.playback.chunks_played",
		metric.WithDescription("Playback chunks that ended without a device failure."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSkipped, err = m.Int64Counter("voxlink.playback.chunks_skipped",
		metric.WithDescription("Playback chunks skipped without reaching the audio backend."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxlink.playback.interruptions",
		metric.WithDescription("Playback interruptions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxlink.playback.duration",
		metric.WithDescription("Wall time each playback chunk was sounding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chunkBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("voxlink.primary.events",
		metric.WithDescription("Inbound primary socket events by type."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptReconnects, err = m.Int64Counter("voxlink.transcript.reconnects",
		metric.WithDescription("Transcript socket reconnection attempts."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
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

func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) RecordChunkSkipped(ctx context.Context, reason string) {
	m.ChunksSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
