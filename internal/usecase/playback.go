package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voxlink/internal/domain"
	"voxlink/internal/observe"
	"voxlink/internal/pcm"
	"voxlink/internal/ports"
)

// PlaybackQueue plays agent audio chunks strictly in arrival order, one at a
// time, and can be flushed at any moment.
type PlaybackQueue struct {
	output  ports.AudioOutput
	events  ports.EventSink
	metrics *observe.Metrics
	logger  *slog.Logger
	cfg     ports.AudioConfig

	ctx    context.Context
	cancel context.CancelFunc

	// playMu serializes device starts so a stale handle is stopped before
	// the next generation's first chunk sounds.
	playMu sync.Mutex

	mu         sync.Mutex
	pending    []domain.PlaybackChunk
	playing    bool
	current    ports.PlaybackHandle
	generation uint64
	// stopping is closed once the handle silenced by the latest Interrupt
	// has finished.
	stopping chan struct{}
}

func NewPlaybackQueue(
	output ports.AudioOutput,
	events ports.EventSink,
	metrics *observe.Metrics,
	logger *slog.Logger,
	cfg ports.AudioConfig,
) *PlaybackQueue {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = pcm.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = pcm.Channels
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PlaybackQueue{
		output:  output,
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "playback"),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue appends a chunk and starts playback if nothing is sounding.
func (q *PlaybackQueue) Enqueue(chunk domain.PlaybackChunk) {
	if chunk.Payload == "" {
		q.logger.Warn("ignoring audio event without payload")
		q.metrics.RecordChunkSkipped(q.ctx, "empty")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return
	}
	q.pending = append(q.pending, chunk)
	if !q.playing {
		q.playing = true
		go q.drain(q.generation)
	}
}

// Interrupt silences the current chunk and drops everything pending.
func (q *PlaybackQueue) Interrupt() {
	q.mu.Lock()
	q.generation++
	current := q.current
	q.current = nil
	var stopping chan struct{}
	if current != nil {
		stopping = make(chan struct{})
		q.stopping = stopping
	}
	dropped := len(q.pending)
	q.pending = nil
	q.playing = false
	q.mu.Unlock()

	if current != nil {
		if err := current.Stop(); err != nil {
			q.logger.Debug("stop playback", "error", err)
		}
		close(stopping)
	}

	q.metrics.Interruptions.Add(q.ctx, 1)
	q.logger.Debug("playback interrupted", "dropped", dropped)
}

// Close interrupts playback and refuses further chunks.
func (q *PlaybackQueue) Close() {
	q.Interrupt()
	q.cancel()
}

func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// drain is the single consumer for one generation. It exits as soon as the
// generation changes.
func (q *PlaybackQueue) drain(generation uint64) {
	for {
		q.mu.Lock()
		if q.generation != generation {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.playing = false
			q.mu.Unlock()
			return
		}
		chunk := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		samples, err := pcm.DecodeBase64(chunk.Payload)
		if err != nil {
			q.logger.Warn("skipping malformed audio chunk", "error", err)
			q.metrics.RecordChunkSkipped(q.ctx, "malformed")
			continue
		}
		if len(samples) == 0 {
			q.metrics.RecordChunkSkipped(q.ctx, "empty")
			continue
		}

		handle, ok := q.start(generation, samples)
		if !ok {
			return
		}
		if handle == nil {
			continue
		}

		started := time.Now()
		<-handle.Done()
		q.metrics.PlaybackDuration.Record(q.ctx, time.Since(started).Seconds())

		q.mu.Lock()
		stale := q.generation != generation
		if q.current == handle {
			q.current = nil
		}
		q.mu.Unlock()

		if err := handle.Err(); err != nil && !stale {
			q.logger.Warn("playback device failed", "error", err)
			q.metrics.RecordChunkSkipped(q.ctx, "device")
			q.events.Advisory(domain.ErrorCodePlayback, fmt.Sprintf("audio playback failed: %v", err))
			continue
		}
		q.metrics.ChunksPlayed.Add(q.ctx, 1)
	}
}

// start hands samples to the device outside q.mu so Interrupt and Enqueue
// never wait on a process start. It reports false once the generation is
// stale, and a nil handle when the device refused the buffer.
func (q *PlaybackQueue) start(generation uint64, samples []float32) (ports.PlaybackHandle, bool) {
	q.mu.Lock()
	if q.generation != generation {
		q.mu.Unlock()
		return nil, false
	}
	stopping := q.stopping
	q.mu.Unlock()
	if stopping != nil {
		<-stopping
	}

	q.playMu.Lock()
	defer q.playMu.Unlock()

	handle, err := q.output.Play(q.ctx, q.cfg, samples)
	if err != nil {
		q.events.Advisory(domain.ErrorCodePlayback, fmt.Sprintf("failed to play audio: %v", err))
		return nil, true
	}

	q.mu.Lock()
	if q.generation != generation {
		q.mu.Unlock()
		_ = handle.Stop()
		return nil, false
	}
	q.current = handle
	q.mu.Unlock()
	return handle, true
}
