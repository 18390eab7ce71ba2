package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ChannelState models the primary socket lifecycle.
type ChannelState string

const (
	ChannelStateDisconnected ChannelState = "disconnected"
	ChannelStateConnecting   ChannelState = "connecting"
	ChannelStateConnected    ChannelState = "connected"
)

// CaptureState models the microphone pipeline lifecycle.
type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateCapturing CaptureState = "capturing"
)

// ErrorCode identifies user-visible advisories. None of them are fatal.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeTransport         ErrorCode = "transport"
	ErrorCodeNotConnected      ErrorCode = "not_connected"
	ErrorCodeInsecureTransport ErrorCode = "insecure_transport"
	ErrorCodeMicUnavailable    ErrorCode = "mic_unavailable"
	ErrorCodeAudioStop         ErrorCode = "audio_stop"
	ErrorCodeAudioStream       ErrorCode = "audio_stream"
	ErrorCodePlayback          ErrorCode = "playback"
	ErrorCodeCollaborator      ErrorCode = "collaborator"
	ErrorCodeClipboard         ErrorCode = "clipboard"
)

// AudioFrame is one encoded capture window, ready for the wire.
type AudioFrame struct {
	Samples []int16
}

// PlaybackChunk is a base64 payload of little-endian int16 samples at 24 kHz.
type PlaybackChunk struct {
	Payload string
}

// SessionStatus is the aggregate state shown to the user.
type SessionStatus struct {
	SessionID           string `json:"sessionId"`
	AgentURL            string `json:"agentUrl"`
	TranscriptionURL    string `json:"transcriptionUrl"`
	PrimaryConnected    bool   `json:"primaryConnected"`
	MicActive           bool   `json:"micActive"`
	Muted               bool   `json:"muted"`
	TranscriptConnected bool   `json:"transcriptConnected"`
	// SecureTransport is false when the agent origin rules out microphone
	// capture; the UI warns about it before the user connects.
	SecureTransport bool `json:"secureTransport"`
}

// TranscriptEntry is one line delivered by the transcript socket.
type TranscriptEntry struct {
	ID         int64     `json:"id"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	ReceivedAt Timestamp `json:"received_at"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp decodes RFC 3339 times with or without a zone, and unix seconds.
// Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if b[0] != '"' {
		seconds, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", b)
		}
		whole := int64(seconds)
		t.Time = time.Unix(whole, int64((seconds-float64(whole))*1e9)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return t.Time.MarshalJSON()
}

// ChatMessage is one rendered line of the conversation log.
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToolEvent is the condensed form of a tool or handoff event shown in the
// secondary lane.
type ToolEvent struct {
	Kind        EventType `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// BotRequest asks the collaborator backend to place a bot in a meeting.
type BotRequest struct {
	MeetingLink string `json:"meeting_link"`
	BotName     string `json:"bot_name"`
	BotMessage  string `json:"bot_message"`
}

// BotInfo is returned once a bot has been provisioned.
type BotInfo struct {
	BotID        string `json:"bot_id"`
	TranscriptID string `json:"transcript_id"`
}

// ToolResult is the response of a manual tool invocation.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}
