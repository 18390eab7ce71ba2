package audio

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"voxlink/internal/pcm"
	"voxlink/internal/ports"
)

// FFMPEGPlayer plays each buffer through its own ffmpeg process. Natural
// completion is the process exit; Stop kills the process group.
type FFMPEGPlayer struct {
	command string
}

func NewFFMPEGPlayer(command string) *FFMPEGPlayer {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGPlayer{command: command}
}

func (p *FFMPEGPlayer) Play(ctx context.Context, cfg ports.AudioConfig, samples []float32) (ports.PlaybackHandle, error) {
	cfg = withDefaults(cfg)

	cmd := newDeviceCommand(ctx, p.command, playbackArgs(cfg))
	cmd.Stdin = bytes.NewReader(pcm.Float32ToLE(samples))

	proc, err := startDevice(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}
	return &playbackHandle{deviceProcess: proc}, nil
}

// playbackArgs feeds one raw float buffer from stdin to the output device.
func playbackArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "f32le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"-i", "-",
		"-f", cfg.Format,
		cfg.Device,
	}
}

type playbackHandle struct {
	*deviceProcess
}

// Stop silences the buffer immediately. It returns the device error only
// when playback had already failed on its own.
func (h *playbackHandle) Stop() error {
	return h.stop(0)
}
