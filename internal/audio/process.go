package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxlink/internal/pcm"
	"voxlink/internal/ports"
)

const (
	// waitDelay bounds how long Wait keeps copying stderr after the device
	// process is gone and a helper it spawned still holds the pipe.
	waitDelay  = 500 * time.Millisecond
	stderrTail = 2048
)

// deviceProcess is one ffmpeg process started in its own process group, so
// stopping it also stops anything it spawned. Exits caused by a stop are
// not errors; any other non-zero exit is, with the stderr tail attached.
type deviceProcess struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	done   chan struct{}

	stopped atomic.Bool
	err     error
}

func newDeviceCommand(ctx context.Context, command string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	return cmd
}

func startDevice(cmd *exec.Cmd) (*deviceProcess, error) {
	p := &deviceProcess{
		cmd:    cmd,
		stderr: &tailBuffer{limit: stderrTail},
		done:   make(chan struct{}),
	}
	cmd.Stderr = p.stderr
	cmd.Cancel = func() error {
		p.stopped.Store(true)
		return killGroup(cmd.Process)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go p.wait()
	return p, nil
}

func (p *deviceProcess) wait() {
	err := p.cmd.Wait()
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		err = nil
	case p.stopped.Load():
		err = nil
	default:
		if tail := p.stderr.String(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
	}
	p.err = err
	close(p.done)
}

func (p *deviceProcess) Done() <-chan struct{} {
	return p.done
}

// Err reports how the process ended. It is nil while the process runs.
func (p *deviceProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// stop asks the process group to exit, escalating to a kill once grace
// elapses. A zero grace kills right away.
func (p *deviceProcess) stop(grace time.Duration) error {
	select {
	case <-p.done:
		return p.err
	default:
	}

	p.stopped.Store(true)
	if grace > 0 {
		_ = interruptGroup(p.cmd.Process)
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return p.err
		case <-timer.C:
		}
	}
	_ = killGroup(p.cmd.Process)
	<-p.done
	return p.err
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = pcm.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = pcm.Channels
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = pcm.WindowSize
	}
	if cfg.Format == "" {
		cfg.Format = "pulse"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	return cfg
}
