package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voxlink/internal/domain"
	"voxlink/internal/observe"
	"voxlink/internal/ports"
)

// DefaultReconnectDelay is the fixed wait between a transcript socket closure
// and the next connection attempt.
const DefaultReconnectDelay = 3 * time.Second

const (
	transcriptHistory = "transcription_history"
	transcriptUpdate  = "transcription_update"
)

var errTranscriptNotList = errors.New("transcript history is not a list")

type transcriptMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TranscriptChannel keeps a read-only socket to the transcription feed open
// for the lifetime of the process.
type TranscriptChannel struct {
	dialer  ports.SocketDialer
	log     *TranscriptLog
	session *SessionContext
	metrics *observe.Metrics
	logger  *slog.Logger
	url     string
	delay   time.Duration
}

func NewTranscriptChannel(
	url string,
	delay time.Duration,
	dialer ports.SocketDialer,
	log *TranscriptLog,
	session *SessionContext,
	metrics *observe.Metrics,
	logger *slog.Logger,
) *TranscriptChannel {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptChannel{
		dialer:  dialer,
		log:     log,
		session: session,
		metrics: metrics,
		logger:  logger.With("component", "transcript", "url", url),
		url:     url,
		delay:   delay,
	}
}

// Run connects and reconnects after every closure, waiting the fixed delay
// each time. It returns when ctx is cancelled.
func (c *TranscriptChannel) Run(ctx context.Context) error {
	for {
		c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Info("transcript socket closed; reconnecting", "delay", c.delay)
		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		c.metrics.TranscriptReconnects.Add(ctx, 1)
	}
}

// Replace swaps the transcript list, e.g. with a fetched snapshot.
func (c *TranscriptChannel) Replace(entries []domain.TranscriptEntry) {
	c.log.Replace(entries)
}

func (c *TranscriptChannel) runOnce(ctx context.Context) {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.logger.Warn("transcript socket dial failed", "error", err)
		c.session.SetTranscriptConnected(false)
		return
	}

	c.session.SetTranscriptConnected(true)
	c.logger.Info("transcript socket connected")

	for payload := range conn.Messages() {
		if err := c.handle(payload); err != nil {
			c.logger.Warn("skipping transcript message", "error", err)
		}
	}
	if err := conn.Wait(); err != nil {
		c.logger.Warn("transcript socket error", "error", err)
	}
	c.session.SetTranscriptConnected(false)
}

func (c *TranscriptChannel) handle(payload []byte) error {
	var msg transcriptMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode transcript message: %w", err)
	}

	switch msg.Type {
	case transcriptHistory:
		var entries []domain.TranscriptEntry
		if err := json.Unmarshal(msg.Data, &entries); err != nil {
			return fmt.Errorf("decode transcript history: %w", err)
		}
		if entries == nil {
			return errTranscriptNotList
		}
		c.log.Replace(entries)
	case transcriptUpdate:
		if len(msg.Data) == 0 || string(msg.Data) == "null" {
			return errors.New("transcript update has no data")
		}
		var entry domain.TranscriptEntry
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			return fmt.Errorf("decode transcript update: %w", err)
		}
		c.log.Append(entry)
	default:
		c.logger.Debug("ignoring transcript message", "type", msg.Type)
	}
	return nil
}
