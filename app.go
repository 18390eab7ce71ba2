package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxlink/internal/bootstrap"
	"voxlink/internal/domain"
	"voxlink/internal/usecase"
)

const (
	eventSession     = "voxlink:session"
	eventMessages    = "voxlink:messages"
	eventRaw         = "voxlink:event"
	eventTool        = "voxlink:tool"
	eventTranscripts = "voxlink:transcripts"
	eventError       = "voxlink:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services bootstrap.Services
	client   *usecase.Client
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.Advisory(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.client = services.Client
	slog.SetDefault(services.Logger)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		if err := services.Run(runCtx); err != nil {
			services.Logger.Error("background loop failed", "error", err)
			a.Advisory(domain.ErrorCodeStartup, err.Error())
		}
	}()
}

func (a *App) shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.services.Close(ctx); err != nil {
		slog.Warn("shutdown", "error", err)
	}
}

// Connect opens the agent connection and starts the microphone when allowed.
func (a *App) Connect() (domain.SessionStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionStatus{}, err
	}
	return a.client.Connect(a.ctx)
}

// Disconnect closes the agent connection.
func (a *App) Disconnect() (domain.SessionStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionStatus{}, err
	}
	return a.client.Disconnect()
}

// ToggleConnection backs the single connect/disconnect button.
func (a *App) ToggleConnection() (domain.SessionStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionStatus{}, err
	}
	return a.client.ToggleConnection(a.ctx)
}

func (a *App) ToggleMute() (domain.SessionStatus, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionStatus{}, err
	}
	return a.client.ToggleMute(), nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.SessionStatus {
	if a.client == nil {
		return domain.SessionStatus{}
	}
	return a.client.Status()
}

func (a *App) GetMessages() []domain.ChatMessage {
	if a.client == nil {
		return nil
	}
	return a.client.Messages()
}

func (a *App) GetTranscripts() []domain.TranscriptEntry {
	if a.client == nil {
		return nil
	}
	return a.client.RecentTranscripts()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"agentBaseUrl":      cfg.Agent.BaseURL,
		"agentSocketUrl":    cfg.Agent.SocketURL,
		"audioInput":        cfg.Audio.InputDevice,
		"audioInputFormat":  cfg.Audio.InputFormat,
		"audioOutput":       cfg.Audio.OutputDevice,
		"audioOutputFormat": cfg.Audio.OutputFormat,
		"secureTransport":   strconv.FormatBool(a.client.Status().SecureTransport),
	}
}

func (a *App) CreateBot(meetingLink, botName, botMessage string) (domain.BotInfo, error) {
	if err := a.requireReady(); err != nil {
		return domain.BotInfo{}, err
	}
	return a.client.CreateBot(a.ctx, domain.BotRequest{
		MeetingLink: meetingLink,
		BotName:     botName,
		BotMessage:  botMessage,
	})
}

func (a *App) RemoveBot() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.client.RemoveBot(a.ctx)
}

func (a *App) AddManualTranscription(payload string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.client.AddManualTranscription(a.ctx, payload)
}

func (a *App) TestTranscription() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.client.TestTranscription(a.ctx)
}

func (a *App) FetchTranscriptions() ([]domain.TranscriptEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.client.FetchTranscriptions(a.ctx)
}

func (a *App) InvokeTool(tool string, params map[string]any) (domain.ToolResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.ToolResult{}, err
	}
	return a.client.InvokeTool(a.ctx, tool, params)
}

// CopyTranscripts copies every transcript line to the clipboard.
func (a *App) CopyTranscripts() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.client.CopyTranscripts(a.ctx)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.client == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionChanged emits status updates to the frontend.
func (a *App) SessionChanged(status domain.SessionStatus) {
	a.emit(eventSession, status)
}

// MessagesChanged emits the rebuilt conversation log.
func (a *App) MessagesChanged(messages []domain.ChatMessage) {
	a.emit(eventMessages, messages)
}

// RawEvent forwards an agent event verbatim for the event log pane.
func (a *App) RawEvent(event domain.Event) {
	a.emit(eventRaw, map[string]any{
		"type":    string(event.Type),
		"payload": json.RawMessage(event.Raw),
	})
}

func (a *App) ToolEvent(event domain.ToolEvent) {
	a.emit(eventTool, event)
}

func (a *App) TranscriptsChanged(recent []domain.TranscriptEntry, total int) {
	a.emit(eventTranscripts, map[string]any{
		"recent": recent,
		"total":  total,
	})
}

// Advisory emits user-visible failures to the UI.
func (a *App) Advisory(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeTransport:
		return "Connection issue"
	case domain.ErrorCodeNotConnected:
		return "Not connected"
	case domain.ErrorCodeInsecureTransport:
		return "Microphone disabled on insecure connection"
	case domain.ErrorCodeMicUnavailable:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodePlayback:
		return "Playback issue"
	case domain.ErrorCodeCollaborator:
		return "Request failed"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
