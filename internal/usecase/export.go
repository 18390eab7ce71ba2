package usecase

import (
	"context"
	"fmt"
	"strings"

	"voxlink/internal/domain"
	"voxlink/internal/ports"
)

// transcriptExporter copies the transcript log to the clipboard as plain
// "speaker: text" lines.
type transcriptExporter struct {
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptExporter(clipboard ports.Clipboard, events ports.EventSink) transcriptExporter {
	return transcriptExporter{clipboard: clipboard, events: events}
}

func (e transcriptExporter) Export(ctx context.Context, entries []domain.TranscriptEntry) (string, error) {
	text := formatTranscript(entries)
	if text == "" {
		return "", ErrNoTranscripts
	}
	if e.clipboard == nil {
		return text, nil
	}
	if err := e.clipboard.SetText(ctx, text); err != nil {
		e.events.Advisory(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
		return text, fmt.Errorf("copy transcript: %w", err)
	}
	return text, nil
}

func formatTranscript(entries []domain.TranscriptEntry) string {
	var b strings.Builder
	for _, entry := range entries {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(entry.Speaker)
		if speaker == "" {
			speaker = "Unknown"
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(text)
	}
	return b.String()
}
