package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrHistoryNotArray = errors.New("history is not an array")

type historyItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// MessagesFromHistory rebuilds the visible conversation from an ordered list
// of conversation items. Items that are not messages, or whose displayable
// text is empty, are skipped.
func MessagesFromHistory(history json.RawMessage) ([]ChatMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(history, &items); err != nil || items == nil {
		return nil, ErrHistoryNotArray
	}

	messages := make([]ChatMessage, 0, len(items))
	for _, raw := range items {
		var item historyItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if item.Type != "message" {
			continue
		}
		text := strings.TrimSpace(extractText(item.Content))
		if text == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: item.Role, Text: text})
	}
	return messages, nil
}

func extractText(content json.RawMessage) string {
	var parts []json.RawMessage
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}

	var b strings.Builder
	for _, raw := range parts {
		var part contentPart
		if err := json.Unmarshal(raw, &part); err != nil {
			continue
		}
		switch part.Type {
		case "text", "input_text":
			b.WriteString(part.Text)
		case "audio", "input_audio":
			b.WriteString(part.Transcript)
		}
	}
	return b.String()
}
