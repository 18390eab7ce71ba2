package usecase

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"voxlink/internal/domain"
	"voxlink/internal/pcm"
	"voxlink/internal/ports"
)

func chunkOf(samples ...int16) domain.PlaybackChunk {
	return domain.PlaybackChunk{Payload: base64.StdEncoding.EncodeToString(pcm.Int16ToLE(samples))}
}

func newTestPlayback(output *fakeOutput) (*PlaybackQueue, *fakeEventSink) {
	events := &fakeEventSink{}
	queue := NewPlaybackQueue(output, events, nil, nil, ports.AudioConfig{})
	return queue, events
}

func TestPlaybackPlaysInOrderWithoutOverlap(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, _ := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(chunkOf(16384))
	queue.Enqueue(chunkOf(-16384))
	queue.Enqueue(chunkOf(8192))

	want := []float32{0.5, -0.5, 0.25}
	for i, value := range want {
		handle := output.nextPlay(t)
		if handle.samples[0] != value {
			t.Fatalf("chunk %d: expected %v, got %v", i, value, handle.samples[0])
		}
		output.expectNoPlay(t, 20*time.Millisecond)
		handle.finish()
	}

	waitFor(t, "queue idle", func() bool { return !queue.Playing() })
	if got := output.maxActive.Load(); got != 1 {
		t.Fatalf("expected at most one live playback, got %d", got)
	}
}

func TestPlaybackInterruptClearsState(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, _ := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(chunkOf(100))
	queue.Enqueue(chunkOf(200))
	queue.Enqueue(chunkOf(300))

	first := output.nextPlay(t)
	queue.Interrupt()

	waitFor(t, "live playback stopped", func() bool { return first.stopCalls.Load() == 1 })
	if queue.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", queue.Pending())
	}
	if queue.Playing() {
		t.Fatalf("expected playing=false after interrupt")
	}
	output.expectNoPlay(t, 50*time.Millisecond)

	queue.Enqueue(chunkOf(400))
	next := output.nextPlay(t)
	if want := float32(400) / 32768; next.samples[0] != want {
		t.Fatalf("expected resumed playback of the new chunk, got %v", next.samples[0])
	}
	next.finish()
	output.expectNoPlay(t, 20*time.Millisecond)
}

func TestPlaybackInterruptWhenIdle(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, _ := newTestPlayback(output)
	defer queue.Close()

	queue.Interrupt()
	queue.Interrupt()
	if queue.Playing() || queue.Pending() != 0 {
		t.Fatalf("expected idle queue")
	}

	queue.Enqueue(chunkOf(1))
	output.nextPlay(t).finish()
}

func TestPlaybackSkipsEmptyAndMalformedChunks(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, _ := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(domain.PlaybackChunk{})
	if queue.Pending() != 0 || queue.Playing() {
		t.Fatalf("empty payload must be ignored")
	}

	// One byte decodes to zero samples.
	queue.Enqueue(domain.PlaybackChunk{Payload: "AA=="})
	waitFor(t, "zero-sample chunk to complete", func() bool { return !queue.Playing() })
	output.expectNoPlay(t, 20*time.Millisecond)

	queue.Enqueue(domain.PlaybackChunk{Payload: "not base64!"})
	queue.Enqueue(chunkOf(16384))

	handle := output.nextPlay(t)
	if handle.samples[0] != 0.5 {
		t.Fatalf("expected the valid chunk to play, got %v", handle.samples[0])
	}
	handle.finish()
	waitFor(t, "queue idle", func() bool { return !queue.Playing() })
}

func TestPlaybackBackendFailureContinues(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	output.errs = []error{errors.New("device busy")}
	queue, events := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(chunkOf(1))
	queue.Enqueue(chunkOf(2))

	handle := output.nextPlay(t)
	if want := float32(2) / 32768; handle.samples[0] != want {
		t.Fatalf("expected second chunk to play, got %v", handle.samples[0])
	}
	handle.finish()
	if !events.hasAdvisory(domain.ErrorCodePlayback) {
		t.Fatalf("expected playback advisory")
	}
}

func TestPlaybackCloseRejectsNewChunks(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, _ := newTestPlayback(output)

	queue.Close()
	queue.Enqueue(chunkOf(1))
	if queue.Pending() != 0 || queue.Playing() {
		t.Fatalf("closed queue must not accept chunks")
	}
	output.expectNoPlay(t, 20*time.Millisecond)
}

func TestPlaybackDeviceFailureIsReported(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, events := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(chunkOf(1))
	queue.Enqueue(chunkOf(2))

	output.nextPlay(t).fail(errors.New("no such sink"))
	next := output.nextPlay(t)
	if want := float32(2) / 32768; next.samples[0] != want {
		t.Fatalf("expected the next chunk to play, got %v", next.samples[0])
	}
	next.finish()

	waitFor(t, "playback advisory", func() bool { return events.hasAdvisory(domain.ErrorCodePlayback) })
	found := false
	for _, a := range events.snapshotAdvisories() {
		if a.code == domain.ErrorCodePlayback && strings.Contains(a.detail, "no such sink") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected device error in advisory, got %+v", events.snapshotAdvisories())
	}
}

func TestPlaybackInterruptRaisesNoAdvisory(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	queue, events := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(chunkOf(1))
	first := output.nextPlay(t)
	queue.Interrupt()
	waitFor(t, "live playback stopped", func() bool { return first.stopCalls.Load() == 1 })

	waitFor(t, "queue idle", func() bool { return !queue.Playing() })
	output.expectNoPlay(t, 20*time.Millisecond)
	if events.hasAdvisory(domain.ErrorCodePlayback) {
		t.Fatalf("an interrupted buffer must not raise a playback advisory")
	}
}

func TestPlaybackInterruptDoesNotWaitForDeviceStart(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	output.gate = make(chan struct{})
	queue, _ := newTestPlayback(output)
	defer queue.Close()

	queue.Enqueue(chunkOf(100))
	waitFor(t, "device start", func() bool { return output.calls.Load() == 1 })

	returned := make(chan struct{})
	go func() {
		queue.Interrupt()
		queue.Enqueue(chunkOf(200))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(waitTimeout):
		t.Fatalf("interrupt blocked behind a device start")
	}

	close(output.gate)
	stale := output.nextPlay(t)
	waitFor(t, "stale playback stopped", func() bool { return stale.stopCalls.Load() == 1 })

	next := output.nextPlay(t)
	if want := float32(200) / 32768; next.samples[0] != want {
		t.Fatalf("expected the new chunk to play, got %v", next.samples[0])
	}
	next.finish()
	if got := output.maxActive.Load(); got != 1 {
		t.Fatalf("expected at most one live playback, got %d", got)
	}
}
