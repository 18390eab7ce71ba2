package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"voxlink/internal/pcm"
	"voxlink/internal/ports"
)

const (
	sampleBytes = 4
	// captureGrace lets ffmpeg flush and release the device after SIGINT.
	captureGrace = 1200 * time.Millisecond
)

// FFMPEGCapture records the microphone with ffmpeg, resampled to mono
// float32 at the configured rate, and hands it out one window at a time.
type FFMPEGCapture struct {
	command string
	warmup  time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, warmup: 250 * time.Millisecond}
}

// Start opens the device and waits out the warmup so a missing or busy
// microphone fails here rather than on the first read.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withDefaults(cfg)

	samples, sink, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}

	cmd := newDeviceCommand(ctx, c.command, captureArgs(cfg))
	cmd.Stdout = sink

	proc, err := startDevice(cmd)
	_ = sink.Close()
	if err != nil {
		_ = samples.Close()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}

	select {
	case <-proc.Done():
		_ = samples.Close()
		if err := proc.Err(); err != nil {
			return nil, fmt.Errorf("capture exited before it started: %w", err)
		}
		return nil, errors.New("capture exited before it started")
	case <-time.After(c.warmup):
	}

	return &captureSession{
		deviceProcess: proc,
		samples:       samples,
		window:        make([]byte, cfg.WindowSize*cfg.Channels*sampleBytes),
	}, nil
}

// captureArgs records from the input device and writes raw f32le to stdout.
func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.Format,
		"-i", cfg.Device,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}
}

type captureSession struct {
	*deviceProcess

	samples *os.File
	window  []byte

	stopOnce sync.Once
	stopErr  error
}

// ReadWindow blocks until a full window is recorded. When the recorder
// goes away a trailing partial window is dropped; the result is io.EOF
// after a clean exit or Stop, and the recorder's error otherwise.
func (s *captureSession) ReadWindow() ([]float32, error) {
	if _, err := io.ReadFull(s.samples, s.window); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
			<-s.Done()
			if exitErr := s.Err(); exitErr != nil {
				return nil, exitErr
			}
			return nil, io.EOF
		}
		return nil, err
	}
	return pcm.Float32FromLE(s.window), nil
}

// Stop interrupts the recorder, kills it if it lingers, and reports a
// failure only if the recorder had already died on its own.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(captureGrace)
		if err := s.samples.Close(); err != nil && s.stopErr == nil && !errors.Is(err, os.ErrClosed) {
			s.stopErr = err
		}
	})
	return s.stopErr
}
