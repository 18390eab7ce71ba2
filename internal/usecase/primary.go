package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voxlink/internal/domain"
	"voxlink/internal/observe"
	"voxlink/internal/ports"
)

var (
	ErrNotConnected     = errors.New("primary channel is not connected")
	ErrAlreadyConnected = errors.New("primary channel is already open")
)

type audioCapturer interface {
	Start(ctx context.Context, sender ports.FrameSender) error
	Stop() error
}

type audioPlayer interface {
	Enqueue(chunk domain.PlaybackChunk)
	Interrupt()
}

type audioMessage struct {
	Type string  `json:"type"`
	Data []int16 `json:"data"`
}

// PrimaryChannel is the duplex socket to the agent. It carries capture frames
// out and agent events in.
type PrimaryChannel struct {
	dialer   ports.SocketDialer
	capture  audioCapturer
	playback audioPlayer
	messages *MessageLog
	session  *SessionContext
	events   ports.EventSink
	metrics  *observe.Metrics
	logger   *slog.Logger
	url      string
	now      func() time.Time

	mu     sync.Mutex
	state  domain.ChannelState
	conn   ports.SocketConn
	reader chan struct{}
}

func NewPrimaryChannel(
	url string,
	dialer ports.SocketDialer,
	capture audioCapturer,
	playback audioPlayer,
	messages *MessageLog,
	session *SessionContext,
	events ports.EventSink,
	metrics *observe.Metrics,
	logger *slog.Logger,
) *PrimaryChannel {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrimaryChannel{
		dialer:   dialer,
		capture:  capture,
		playback: playback,
		messages: messages,
		session:  session,
		events:   events,
		metrics:  metrics,
		logger:   logger.With("component", "primary", "url", url),
		url:      url,
		now:      time.Now,
		state:    domain.ChannelStateDisconnected,
	}
}

// Open connects to the agent and starts capture. Capture failures are
// reported but leave the channel connected.
func (c *PrimaryChannel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.ChannelStateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = domain.ChannelStateConnecting
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.mu.Lock()
		c.state = domain.ChannelStateDisconnected
		c.mu.Unlock()
		c.events.Advisory(domain.ErrorCodeTransport, fmt.Sprintf("failed to connect to agent: %v", err))
		return fmt.Errorf("open primary channel: %w", err)
	}

	reader := make(chan struct{})
	c.mu.Lock()
	c.state = domain.ChannelStateConnected
	c.conn = conn
	c.reader = reader
	c.mu.Unlock()

	c.session.SetPrimaryConnected(true)
	c.logger.Info("primary channel connected")

	go c.readLoop(conn, reader)

	if err := c.capture.Start(ctx, c); err != nil {
		c.logger.Warn("capture did not start", "error", err)
	}
	return nil
}

// Close disconnects and stops capture. Closing a disconnected channel is a
// no-op.
func (c *PrimaryChannel) Close() error {
	c.mu.Lock()
	if c.state != domain.ChannelStateConnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	reader := c.reader
	c.mu.Unlock()

	err := conn.Close()
	<-reader
	return err
}

func (c *PrimaryChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == domain.ChannelStateConnected
}

func (c *PrimaryChannel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendFrame transmits one capture frame. Frames offered while disconnected
// are dropped.
func (c *PrimaryChannel) SendFrame(frame domain.AudioFrame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == domain.ChannelStateConnected
	c.mu.Unlock()

	ctx := context.Background()
	if !connected || conn == nil {
		c.metrics.FramesDropped.Add(ctx, 1)
		return nil
	}

	samples := frame.Samples
	if samples == nil {
		samples = []int16{}
	}
	payload, err := json.Marshal(audioMessage{Type: "audio", Data: samples})
	if err != nil {
		return fmt.Errorf("encode audio frame: %w", err)
	}
	if err := conn.Send(payload); err != nil {
		// The reader observes the same failure and tears the channel down.
		c.logger.Debug("dropping frame", "error", err)
		c.metrics.FramesDropped.Add(ctx, 1)
		return nil
	}
	c.metrics.FramesSent.Add(ctx, 1)
	return nil
}

func (c *PrimaryChannel) readLoop(conn ports.SocketConn, reader chan struct{}) {
	defer close(reader)

	for payload := range conn.Messages() {
		c.dispatch(payload)
	}
	c.closed(conn, conn.Wait())
}

func (c *PrimaryChannel) dispatch(payload []byte) {
	event, err := domain.ParseEvent(payload)
	if err != nil {
		c.logger.Warn("skipping malformed event", "error", err)
		return
	}

	c.metrics.RecordEvent(context.Background(), string(event.Type))
	c.events.RawEvent(event)
	if event.SecondaryLane() {
		c.events.ToolEvent(event.ToolEvent(c.now()))
	}

	switch event.Type {
	case domain.EventAudio:
		c.playback.Enqueue(domain.PlaybackChunk{Payload: event.Audio})
	case domain.EventAudioInterrupted:
		c.playback.Interrupt()
	case domain.EventHistoryUpdated:
		if err := c.messages.Rebuild(event.History); err != nil {
			c.logger.Warn("skipping history update", "error", err)
		}
	}
}

func (c *PrimaryChannel) closed(conn ports.SocketConn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.state = domain.ChannelStateDisconnected
	c.conn = nil
	c.mu.Unlock()

	c.session.SetPrimaryConnected(false)
	if stopErr := c.capture.Stop(); stopErr != nil {
		c.logger.Warn("stop capture", "error", stopErr)
	}

	if err != nil {
		c.logger.Warn("primary channel closed", "error", err)
		c.events.Advisory(domain.ErrorCodeTransport, fmt.Sprintf("connection to agent lost: %v", err))
		return
	}
	c.logger.Info("primary channel closed")
}
