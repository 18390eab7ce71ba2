package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"voxlink/internal/domain"
	"voxlink/internal/observe"
	"voxlink/internal/pcm"
	"voxlink/internal/ports"
)

const (
	notConnectedAdvice = "Not connected to the agent. Connect first to start the microphone."
	insecureAdvice     = "Microphone capture requires a secure connection (https or localhost). Audio playback still works."
)

// CaptureConfig controls how the microphone is opened and gated.
type CaptureConfig struct {
	Audio      ports.AudioConfig
	WindowSize int
	// SecureTransport is false when the agent origin is neither secure nor
	// local; capture is refused in that case.
	SecureTransport bool
}

// CapturePipeline turns microphone windows into wire frames while the
// primary channel is connected.
type CapturePipeline struct {
	device   ports.AudioCapture
	events   ports.EventSink
	messages *MessageLog
	session  *SessionContext
	metrics  *observe.Metrics
	logger   *slog.Logger
	cfg      CaptureConfig

	muted atomic.Bool

	mu       sync.Mutex
	state    domain.CaptureState
	starting bool
	stopReq  bool
	// sender is the target of the start in flight; a later Start replaces it.
	sender ports.FrameSender
	active *captureSession
}

type captureSession struct {
	audio    ports.AudioSession
	stopping atomic.Bool
	done     chan struct{}
}

func NewCapturePipeline(
	device ports.AudioCapture,
	events ports.EventSink,
	messages *MessageLog,
	session *SessionContext,
	metrics *observe.Metrics,
	logger *slog.Logger,
	cfg CaptureConfig,
) *CapturePipeline {
	if cfg.WindowSize < 256 {
		cfg.WindowSize = pcm.WindowSize
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = pcm.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = pcm.Channels
	}
	cfg.Audio.WindowSize = cfg.WindowSize
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapturePipeline{
		device:   device,
		events:   events,
		messages: messages,
		session:  session,
		metrics:  metrics,
		logger:   logger.With("component", "capture"),
		cfg:      cfg,
		state:    domain.CaptureStateIdle,
	}
}

// Start acquires the microphone and begins streaming frames to sender. An
// unmet precondition is reported to the user and leaves the pipeline idle
// without an error. A Start that lands while an earlier one is still
// opening the device keeps that earlier start alive, even if a Stop came in
// between.
func (c *CapturePipeline) Start(ctx context.Context, sender ports.FrameSender) error {
	c.mu.Lock()
	if c.state == domain.CaptureStateCapturing {
		c.mu.Unlock()
		return nil
	}
	if sender == nil || !sender.Connected() {
		c.mu.Unlock()
		c.advise(domain.ErrorCodeNotConnected, notConnectedAdvice)
		return nil
	}
	if !c.cfg.SecureTransport {
		c.mu.Unlock()
		c.advise(domain.ErrorCodeInsecureTransport, insecureAdvice)
		return nil
	}
	if c.starting {
		c.stopReq = false
		c.sender = sender
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.stopReq = false
	c.sender = sender
	c.mu.Unlock()

	audio, err := c.device.Start(ctx, c.cfg.Audio)

	c.mu.Lock()
	c.starting = false
	sender = c.sender
	c.sender = nil
	if err != nil {
		c.mu.Unlock()
		c.events.Advisory(domain.ErrorCodeMicUnavailable, fmt.Sprintf("microphone unavailable: %v", err))
		return fmt.Errorf("start capture: %w", err)
	}
	if c.stopReq {
		c.stopReq = false
		c.mu.Unlock()
		_ = audio.Stop()
		return nil
	}
	active := &captureSession{audio: audio, done: make(chan struct{})}
	c.active = active
	c.state = domain.CaptureStateCapturing
	c.mu.Unlock()

	c.session.SetMicActive(true)
	c.logger.Info("capture started", "sample_rate", c.cfg.Audio.SampleRate, "window", c.cfg.WindowSize)

	go c.pump(active, sender)
	return nil
}

// Stop releases the microphone. Safe to call when idle.
func (c *CapturePipeline) Stop() error {
	c.mu.Lock()
	if c.starting {
		c.stopReq = true
	}
	active := c.active
	c.active = nil
	c.state = domain.CaptureStateIdle
	c.mu.Unlock()

	if active == nil {
		return nil
	}

	active.stopping.Store(true)
	err := active.audio.Stop()
	<-active.done

	c.session.SetMicActive(false)
	c.logger.Info("capture stopped")
	if err != nil {
		c.events.Advisory(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

func (c *CapturePipeline) SetMuted(muted bool) {
	c.muted.Store(muted)
	c.session.SetMuted(muted)
}

// ToggleMute flips the mute flag and returns the new value.
func (c *CapturePipeline) ToggleMute() bool {
	for {
		current := c.muted.Load()
		if c.muted.CompareAndSwap(current, !current) {
			c.session.SetMuted(!current)
			return !current
		}
	}
}

func (c *CapturePipeline) Muted() bool {
	return c.muted.Load()
}

func (c *CapturePipeline) State() domain.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CapturePipeline) advise(code domain.ErrorCode, text string) {
	c.logger.Warn("capture not started", "reason", code)
	c.events.Advisory(code, text)
	if c.messages != nil {
		c.messages.Add(RoleAssistant, text)
	}
}

func (c *CapturePipeline) pump(active *captureSession, sender ports.FrameSender) {
	defer close(active.done)

	ctx := context.Background()
	for {
		window, err := active.audio.ReadWindow()
		if err != nil {
			if !active.stopping.Load() && !errors.Is(err, io.EOF) {
				c.events.Advisory(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			c.release(active)
			return
		}

		frame := domain.AudioFrame{Samples: pcm.EncodeFrame(window)}
		if c.muted.Load() {
			c.metrics.FramesSuppressed.Add(ctx, 1)
			continue
		}
		if err := sender.SendFrame(frame); err != nil {
			c.events.Advisory(domain.ErrorCodeAudioStream, fmt.Sprintf("failed to stream audio: %v", err))
			c.release(active)
			return
		}
	}
}

// release returns the pipeline to idle when the device ends on its own.
func (c *CapturePipeline) release(active *captureSession) {
	c.mu.Lock()
	owned := c.active == active
	if owned {
		c.active = nil
		c.state = domain.CaptureStateIdle
	}
	c.mu.Unlock()

	if !owned {
		return
	}
	_ = active.audio.Stop()
	c.session.SetMicActive(false)
	c.logger.Info("capture ended", "reason", "device closed")
}
