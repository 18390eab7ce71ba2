package usecase

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"voxlink/internal/domain"
	"voxlink/internal/ports"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageLog is the visible conversation. It is rebuilt wholesale from
// history updates and also carries local advisories.
type MessageLog struct {
	events ports.EventSink
	logger *slog.Logger

	mu       sync.Mutex
	messages []domain.ChatMessage
}

func NewMessageLog(events ports.EventSink, logger *slog.Logger) *MessageLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageLog{events: events, logger: logger}
}

// Add appends one line. Blank text is ignored.
func (l *MessageLog) Add(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	l.mu.Lock()
	l.messages = append(l.messages, domain.ChatMessage{Role: role, Text: text})
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.events.MessagesChanged(snapshot)
}

// Rebuild replaces the log with the displayable messages of history. A
// history that is not an array leaves the log untouched.
func (l *MessageLog) Rebuild(history json.RawMessage) error {
	messages, err := domain.MessagesFromHistory(history)
	if err != nil {
		return err
	}
	l.logger.Debug("rebuilt message log from history", "messages", len(messages))

	l.mu.Lock()
	l.messages = messages
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.events.MessagesChanged(snapshot)
	return nil
}

func (l *MessageLog) Snapshot() []domain.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *MessageLog) snapshotLocked() []domain.ChatMessage {
	return append([]domain.ChatMessage(nil), l.messages...)
}
