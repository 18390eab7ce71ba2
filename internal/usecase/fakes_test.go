package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"voxlink/internal/domain"
	"voxlink/internal/observe"
	"voxlink/internal/ports"
)

const waitTimeout = 2 * time.Second

type advisory struct {
	code   domain.ErrorCode
	detail string
}

type transcriptsUpdate struct {
	recent []domain.TranscriptEntry
	total  int
}

type fakeEventSink struct {
	mu          sync.Mutex
	sessions    []domain.SessionStatus
	messages    [][]domain.ChatMessage
	raw         []domain.Event
	tools       []domain.ToolEvent
	transcripts []transcriptsUpdate
	advisories  []advisory
}

func (f *fakeEventSink) SessionChanged(status domain.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, status)
}

func (f *fakeEventSink) MessagesChanged(messages []domain.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages)
}

func (f *fakeEventSink) RawEvent(event domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, event)
}

func (f *fakeEventSink) ToolEvent(event domain.ToolEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = append(f.tools, event)
}

func (f *fakeEventSink) TranscriptsChanged(recent []domain.TranscriptEntry, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, transcriptsUpdate{recent: recent, total: total})
}

func (f *fakeEventSink) Advisory(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advisories = append(f.advisories, advisory{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotAdvisories() []advisory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]advisory(nil), f.advisories...)
}

func (f *fakeEventSink) snapshotRaw() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.raw...)
}

func (f *fakeEventSink) snapshotTools() []domain.ToolEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ToolEvent(nil), f.tools...)
}

func (f *fakeEventSink) lastTranscripts() (transcriptsUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transcripts) == 0 {
		return transcriptsUpdate{}, false
	}
	return f.transcripts[len(f.transcripts)-1], true
}

func (f *fakeEventSink) hasAdvisory(code domain.ErrorCode) bool {
	for _, a := range f.snapshotAdvisories() {
		if a.code == code {
			return true
		}
	}
	return false
}

// fakeAudioSession hands out windows passed to feed until stopped, ended
// or failed.
type fakeAudioSession struct {
	windows chan []float32
	closed  chan struct{}
	once    sync.Once
	readErr error

	stopCalls atomic.Int32
	stopErr   error
}

func newFakeAudioSession() *fakeAudioSession {
	return &fakeAudioSession{windows: make(chan []float32), closed: make(chan struct{})}
}

// feed blocks until the pipeline has read the window.
func (s *fakeAudioSession) feed(samples []float32) error {
	select {
	case s.windows <- samples:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	}
}

// end simulates the device closing on its own.
func (s *fakeAudioSession) end() {
	s.once.Do(func() { close(s.closed) })
}

// fail simulates the device dying with err.
func (s *fakeAudioSession) fail(err error) {
	s.readErr = err
	s.end()
}

func (s *fakeAudioSession) ReadWindow() ([]float32, error) {
	select {
	case window := <-s.windows:
		return window, nil
	case <-s.closed:
		if s.readErr != nil {
			return nil, s.readErr
		}
		return nil, io.EOF
	}
}

func (s *fakeAudioSession) Stop() error {
	s.stopCalls.Add(1)
	s.end()
	return s.stopErr
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
	configs  []ports.AudioConfig
	// gate, when set, holds every Start until it is closed.
	gate chan struct{}
}

func (f *fakeAudioCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	f.calls++
	f.configs = append(f.configs, cfg)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no fake audio session")
	}
	next := f.sessions[0]
	f.sessions = f.sessions[1:]
	return next, nil
}

func (f *fakeAudioCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSender struct {
	connected atomic.Bool
	err       error
	frames    chan domain.AudioFrame
}

func newFakeSender(connected bool) *fakeSender {
	s := &fakeSender{frames: make(chan domain.AudioFrame, 16)}
	s.connected.Store(connected)
	return s
}

func (s *fakeSender) Connected() bool {
	return s.connected.Load()
}

func (s *fakeSender) SendFrame(frame domain.AudioFrame) error {
	if s.err != nil {
		return s.err
	}
	s.frames <- frame
	return nil
}

type fakeHandle struct {
	samples   []float32
	done      chan struct{}
	once      sync.Once
	err       error
	stopCalls atomic.Int32
	output    *fakeOutput
}

func (h *fakeHandle) Done() <-chan struct{} {
	return h.done
}

func (h *fakeHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *fakeHandle) Stop() error {
	h.stopCalls.Add(1)
	h.finish()
	return nil
}

// finish ends playback as if the buffer had drained.
func (h *fakeHandle) finish() {
	h.fail(nil)
}

// fail ends playback as if the device had died with err.
func (h *fakeHandle) fail(err error) {
	h.once.Do(func() {
		h.err = err
		h.output.active.Add(-1)
		close(h.done)
	})
}

type fakeOutput struct {
	mu        sync.Mutex
	errs      []error
	active    atomic.Int32
	maxActive atomic.Int32
	plays     chan *fakeHandle
	// gate, when set, holds every Play until it is closed.
	gate  chan struct{}
	calls atomic.Int32
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{plays: make(chan *fakeHandle, 16)}
}

func (o *fakeOutput) Play(_ context.Context, _ ports.AudioConfig, samples []float32) (ports.PlaybackHandle, error) {
	o.calls.Add(1)
	o.mu.Lock()
	gate := o.gate
	o.mu.Unlock()
	if gate != nil {
		<-gate
	}

	o.mu.Lock()
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		o.mu.Unlock()
		if err != nil {
			return nil, err
		}
	} else {
		o.mu.Unlock()
	}

	active := o.active.Add(1)
	for {
		current := o.maxActive.Load()
		if active <= current || o.maxActive.CompareAndSwap(current, active) {
			break
		}
	}
	h := &fakeHandle{samples: samples, done: make(chan struct{}), output: o}
	o.plays <- h
	return h, nil
}

func (o *fakeOutput) nextPlay(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-o.plays:
		return h
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for playback")
		return nil
	}
}

func (o *fakeOutput) expectNoPlay(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case h := <-o.plays:
		t.Fatalf("unexpected playback of %d samples", len(h.samples))
	case <-time.After(wait):
	}
}

type fakeConn struct {
	mu         sync.Mutex
	sent       [][]byte
	closed     bool
	err        error
	closeCalls int
	messages   chan []byte
	once       sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{messages: make(chan []byte, 32)}
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Messages() <-chan []byte {
	return c.messages
}

func (c *fakeConn) Wait() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.finish(nil)
	return nil
}

// finish ends the connection from the remote side with err.
func (c *fakeConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		c.mu.Unlock()
		close(c.messages)
	})
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	switch payload := v.(type) {
	case string:
		c.messages <- []byte(payload)
	case []byte:
		c.messages <- payload
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		c.messages <- encoded
	}
}

func (c *fakeConn) snapshotSent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	dial  func(attempt int) (ports.SocketConn, error)
	dials chan time.Time
}

func newFakeDialer(dial func(attempt int) (ports.SocketConn, error)) *fakeDialer {
	return &fakeDialer{dial: dial, dials: make(chan time.Time, 64)}
}

func dialConn(conn *fakeConn) *fakeDialer {
	return newFakeDialer(func(int) (ports.SocketConn, error) { return conn, nil })
}

func (d *fakeDialer) Dial(_ context.Context, url string) (ports.SocketConn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	attempt := len(d.urls)
	d.mu.Unlock()

	select {
	case d.dials <- time.Now():
	default:
	}
	return d.dial(attempt)
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type fakeCapturer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	lastSend ports.FrameSender
}

func (f *fakeCapturer) Start(_ context.Context, sender ports.FrameSender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.lastSend = sender
	return f.startErr
}

func (f *fakeCapturer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeCapturer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakePlayer struct {
	mu         sync.Mutex
	chunks     []domain.PlaybackChunk
	interrupts int
}

func (f *fakePlayer) Enqueue(chunk domain.PlaybackChunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
}

func (f *fakePlayer) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
}

type fakeCollaborator struct {
	mu         sync.Mutex
	err        error
	bot        domain.BotInfo
	removed    []string
	manual     []json.RawMessage
	tests      int
	entries    []domain.TranscriptEntry
	toolResult domain.ToolResult
	toolCalls  []string
}

func (f *fakeCollaborator) CreateBot(_ context.Context, _ domain.BotRequest) (domain.BotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.BotInfo{}, f.err
	}
	return f.bot, nil
}

func (f *fakeCollaborator) RemoveBot(_ context.Context, botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, botID)
	return nil
}

func (f *fakeCollaborator) AddManualTranscription(_ context.Context, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.manual = append(f.manual, payload)
	return nil
}

func (f *fakeCollaborator) TestTranscription(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests++
	return f.err
}

func (f *fakeCollaborator) FetchTranscriptions(context.Context) ([]domain.TranscriptEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeCollaborator) InvokeTool(_ context.Context, tool string, _ map[string]any) (domain.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCalls = append(f.toolCalls, tool)
	if f.err != nil {
		return domain.ToolResult{}, f.err
	}
	return f.toolResult, nil
}

type fakeClipboard struct {
	mu       sync.Mutex
	lastText string
	err      error
}

func (c *fakeClipboard) SetText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.lastText = text
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func constantWindow(n int, value float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums every data point of the named int64 counter.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
