package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType is the discriminator of inbound primary socket events.
type EventType string

const (
	EventAudio            EventType = "audio"
	EventAudioInterrupted EventType = "audio_interrupted"
	EventHistoryUpdated   EventType = "history_updated"
	EventToolStart        EventType = "tool_start"
	EventToolEnd          EventType = "tool_end"
	EventHandoff          EventType = "handoff"
)

var ErrMissingEventType = errors.New("event has no type")

// Event is an inbound message from the primary socket. Only the fields the
// client acts on are decoded; Raw keeps the original payload for the sink.
type Event struct {
	Type    EventType       `json:"type"`
	Audio   string          `json:"audio,omitempty"`
	History json.RawMessage `json:"history,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseEvent decodes one primary socket message.
func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, ErrMissingEventType
	}
	event.Raw = append(json.RawMessage(nil), payload...)
	return event, nil
}

// SecondaryLane reports whether the event belongs in the tools/handoff lane.
func (e Event) SecondaryLane() bool {
	switch e.Type {
	case EventToolStart, EventToolEnd, EventHandoff:
		return true
	default:
		return false
	}
}

// ToolEvent condenses a tool or handoff event for display.
func (e Event) ToolEvent(at time.Time) ToolEvent {
	out := ToolEvent{Kind: e.Type, At: at}
	switch e.Type {
	case EventHandoff:
		out.Title = "Handoff"
		out.Description = fmt.Sprintf("From %s to %s", e.From, e.To)
	case EventToolStart:
		out.Title = "Tool Started"
		out.Description = "Running " + e.Tool
	case EventToolEnd:
		out.Title = "Tool Completed"
		output := outputText(e.Output)
		if output == "" {
			output = "No output"
		}
		out.Description = e.Tool + ": " + output
	}
	return out
}

func outputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" || text == "false" {
		return ""
	}
	return text
}
