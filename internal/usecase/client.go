package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voxlink/internal/domain"
	"voxlink/internal/observe"
	"voxlink/internal/ports"
)

var (
	ErrNoActiveBot   = errors.New("no active bot")
	ErrNoTranscripts = errors.New("no transcripts to copy")
)

// Config controls the voice client.
type Config struct {
	SessionID        string
	AgentURL         string
	TranscriptionURL string
	SecureTransport  bool
	Input            ports.AudioConfig
	Output           ports.AudioConfig
	WindowSize       int
	ReconnectDelay   time.Duration
	DisplayWindow    int
}

// Client orchestrates the voice session: the primary channel with its capture
// and playback, the transcript feed, and the collaborator backend.
type Client struct {
	session      *SessionContext
	messages     *MessageLog
	transcripts  *TranscriptLog
	capture      *CapturePipeline
	playback     *PlaybackQueue
	primary      *PrimaryChannel
	feed         *TranscriptChannel
	collaborator ports.Collaborator
	exporter     transcriptExporter
	events       ports.EventSink
	logger       *slog.Logger

	mu  sync.Mutex
	bot *domain.BotInfo
}

func NewClient(
	input ports.AudioCapture,
	output ports.AudioOutput,
	dialer ports.SocketDialer,
	collaborator ports.Collaborator,
	clipboard ports.Clipboard,
	events ports.EventSink,
	metrics *observe.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Client {
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", cfg.SessionID)

	session := NewSessionContext(cfg.SessionID, cfg.AgentURL, cfg.TranscriptionURL, events).
		withSecureTransport(cfg.SecureTransport)
	messages := NewMessageLog(events, logger)
	transcripts := NewTranscriptLog(cfg.DisplayWindow, events)
	capture := NewCapturePipeline(input, events, messages, session, metrics, logger, CaptureConfig{
		Audio:           cfg.Input,
		WindowSize:      cfg.WindowSize,
		SecureTransport: cfg.SecureTransport,
	})
	playback := NewPlaybackQueue(output, events, metrics, logger, cfg.Output)

	return &Client{
		session:      session,
		messages:     messages,
		transcripts:  transcripts,
		capture:      capture,
		playback:     playback,
		primary:      NewPrimaryChannel(cfg.AgentURL, dialer, capture, playback, messages, session, events, metrics, logger),
		feed:         NewTranscriptChannel(cfg.TranscriptionURL, cfg.ReconnectDelay, dialer, transcripts, session, metrics, logger),
		collaborator: collaborator,
		exporter:     newTranscriptExporter(clipboard, events),
		events:       events,
		logger:       logger,
	}
}

// Connect opens the primary channel, which starts capture when allowed.
func (c *Client) Connect(ctx context.Context) (domain.SessionStatus, error) {
	if err := c.primary.Open(ctx); err != nil {
		return c.session.Status(), err
	}
	return c.session.Status(), nil
}

// Disconnect closes the primary channel and releases the microphone.
func (c *Client) Disconnect() (domain.SessionStatus, error) {
	if !c.primary.Connected() {
		return c.session.Status(), ErrNotConnected
	}
	err := c.primary.Close()
	if stopErr := c.capture.Stop(); stopErr != nil {
		c.logger.Warn("stop capture", "error", stopErr)
	}
	return c.session.Status(), err
}

// ToggleConnection connects when disconnected and disconnects otherwise.
func (c *Client) ToggleConnection(ctx context.Context) (domain.SessionStatus, error) {
	if c.primary.State() == domain.ChannelStateDisconnected {
		return c.Connect(ctx)
	}
	return c.Disconnect()
}

func (c *Client) ToggleMute() domain.SessionStatus {
	c.capture.ToggleMute()
	return c.session.Status()
}

func (c *Client) Status() domain.SessionStatus {
	return c.session.Status()
}

func (c *Client) Messages() []domain.ChatMessage {
	return c.messages.Snapshot()
}

func (c *Client) RecentTranscripts() []domain.TranscriptEntry {
	return c.transcripts.Recent()
}

// RunTranscripts keeps the transcript feed connected until ctx ends.
func (c *Client) RunTranscripts(ctx context.Context) error {
	c.session.Publish()
	return c.feed.Run(ctx)
}

// Shutdown tears down the primary channel and silences playback.
func (c *Client) Shutdown() {
	if err := c.primary.Close(); err != nil {
		c.logger.Warn("close primary channel", "error", err)
	}
	if err := c.capture.Stop(); err != nil {
		c.logger.Warn("stop capture", "error", err)
	}
	c.playback.Close()
}

// CreateBot provisions a meeting bot and remembers it for RemoveBot.
func (c *Client) CreateBot(ctx context.Context, req domain.BotRequest) (domain.BotInfo, error) {
	req.MeetingLink = strings.TrimSpace(req.MeetingLink)
	if req.MeetingLink == "" {
		return domain.BotInfo{}, c.collaboratorFailed("create bot", errors.New("meeting link is required"))
	}

	info, err := c.collaborator.CreateBot(ctx, req)
	if err != nil {
		return domain.BotInfo{}, c.collaboratorFailed("create bot", err)
	}

	c.mu.Lock()
	c.bot = &info
	c.mu.Unlock()

	c.logger.Info("bot created", "bot_id", info.BotID, "transcript_id", info.TranscriptID)
	c.messages.Add(RoleAssistant, fmt.Sprintf("Bot %s joined the meeting.", info.BotID))
	return info, nil
}

// RemoveBot removes the bot created by the last successful CreateBot.
func (c *Client) RemoveBot(ctx context.Context) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return ErrNoActiveBot
	}

	if err := c.collaborator.RemoveBot(ctx, bot.BotID); err != nil {
		return c.collaboratorFailed("remove bot", err)
	}

	c.mu.Lock()
	if c.bot == bot {
		c.bot = nil
	}
	c.mu.Unlock()

	c.logger.Info("bot removed", "bot_id", bot.BotID)
	c.messages.Add(RoleAssistant, fmt.Sprintf("Bot %s left the meeting.", bot.BotID))
	return nil
}

func (c *Client) ActiveBot() (domain.BotInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return domain.BotInfo{}, false
	}
	return *c.bot, true
}

// AddManualTranscription forwards a raw JSON document to the backend.
func (c *Client) AddManualTranscription(ctx context.Context, raw string) error {
	payload := json.RawMessage(strings.TrimSpace(raw))
	if !json.Valid(payload) {
		return c.collaboratorFailed("add transcription", errors.New("payload is not valid JSON"))
	}
	if err := c.collaborator.AddManualTranscription(ctx, payload); err != nil {
		return c.collaboratorFailed("add transcription", err)
	}
	return nil
}

func (c *Client) TestTranscription(ctx context.Context) error {
	if err := c.collaborator.TestTranscription(ctx); err != nil {
		return c.collaboratorFailed("test transcription", err)
	}
	return nil
}

// FetchTranscriptions replaces the transcript log with the backend snapshot.
func (c *Client) FetchTranscriptions(ctx context.Context) ([]domain.TranscriptEntry, error) {
	entries, err := c.collaborator.FetchTranscriptions(ctx)
	if err != nil {
		return nil, c.collaboratorFailed("fetch transcriptions", err)
	}
	c.feed.Replace(entries)
	return c.transcripts.Recent(), nil
}

func (c *Client) InvokeTool(ctx context.Context, tool string, params map[string]any) (domain.ToolResult, error) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return domain.ToolResult{}, c.collaboratorFailed("invoke tool", errors.New("tool name is required"))
	}
	result, err := c.collaborator.InvokeTool(ctx, tool, params)
	if err != nil {
		return domain.ToolResult{}, c.collaboratorFailed("invoke tool", err)
	}
	return result, nil
}

// CopyTranscripts places the full transcript log on the clipboard.
func (c *Client) CopyTranscripts(ctx context.Context) (string, error) {
	return c.exporter.Export(ctx, c.transcripts.All())
}

func (c *Client) collaboratorFailed(op string, err error) error {
	c.logger.Warn("collaborator request failed", "op", op, "error", err)
	c.events.Advisory(domain.ErrorCodeCollaborator, fmt.Sprintf("%s: %v", op, err))
	return fmt.Errorf("%s: %w", op, err)
}
