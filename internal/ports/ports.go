package ports

import (
	"context"
	"encoding/json"

	"voxlink/internal/domain"
)

// AudioConfig describes how an audio device should be opened.
type AudioConfig struct {
	SampleRate int
	Channels   int
	// WindowSize is the number of samples a capture session returns per
	// read. Playback ignores it.
	WindowSize int
	Format     string
	Device     string
}

// AudioSession is a live capture session. ReadWindow blocks until one full
// window of float samples is available and returns io.EOF once the device
// ends.
type AudioSession interface {
	ReadWindow() ([]float32, error)
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// PlaybackHandle is one sounding buffer. Done is closed when playback ends,
// naturally or because Stop was called. Err is non-nil after Done only if
// the device failed; a stopped buffer is not a failure.
type PlaybackHandle interface {
	Done() <-chan struct{}
	Err() error
	Stop() error
}

// AudioOutput plays float sample buffers on the speaker.
type AudioOutput interface {
	Play(ctx context.Context, cfg AudioConfig, samples []float32) (PlaybackHandle, error)
}

// SocketConn is an open message-oriented duplex socket.
type SocketConn interface {
	Send(payload []byte) error
	Messages() <-chan []byte
	Wait() error
	Close() error
}

// SocketDialer opens socket connections.
type SocketDialer interface {
	Dial(ctx context.Context, url string) (SocketConn, error)
}

// FrameSender accepts encoded capture frames for transmission.
type FrameSender interface {
	Connected() bool
	SendFrame(frame domain.AudioFrame) error
}

// Collaborator is the HTTP backend serving bot provisioning and test hooks.
type Collaborator interface {
	CreateBot(ctx context.Context, req domain.BotRequest) (domain.BotInfo, error)
	RemoveBot(ctx context.Context, botID string) error
	AddManualTranscription(ctx context.Context, payload json.RawMessage) error
	TestTranscription(ctx context.Context) error
	FetchTranscriptions(ctx context.Context) ([]domain.TranscriptEntry, error)
	InvokeTool(ctx context.Context, tool string, params map[string]any) (domain.ToolResult, error)
}

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state and events to the UI.
type EventSink interface {
	SessionChanged(status domain.SessionStatus)
	MessagesChanged(messages []domain.ChatMessage)
	RawEvent(event domain.Event)
	ToolEvent(event domain.ToolEvent)
	TranscriptsChanged(recent []domain.TranscriptEntry, total int)
	Advisory(code domain.ErrorCode, detail string)
}
