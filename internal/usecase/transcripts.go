package usecase

import (
	"sync"

	"voxlink/internal/domain"
	"voxlink/internal/ports"
)

// TranscriptLog is an unbounded append-only list of transcript entries. Only
// the most recent window entries are rendered.
type TranscriptLog struct {
	events ports.EventSink
	window int

	mu      sync.Mutex
	entries []domain.TranscriptEntry
}

func NewTranscriptLog(window int, events ports.EventSink) *TranscriptLog {
	if window <= 0 {
		window = 20
	}
	return &TranscriptLog{events: events, window: window}
}

// Replace swaps the whole list, as a history delivery does.
func (l *TranscriptLog) Replace(entries []domain.TranscriptEntry) {
	l.mu.Lock()
	l.entries = append([]domain.TranscriptEntry(nil), entries...)
	recent, total := l.recentLocked()
	l.mu.Unlock()

	l.events.TranscriptsChanged(recent, total)
}

func (l *TranscriptLog) Append(entry domain.TranscriptEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	recent, total := l.recentLocked()
	l.mu.Unlock()

	l.events.TranscriptsChanged(recent, total)
}

// Recent returns a copy of the display window.
func (l *TranscriptLog) Recent() []domain.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent, _ := l.recentLocked()
	return recent
}

// All returns a copy of every entry.
func (l *TranscriptLog) All() []domain.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.TranscriptEntry(nil), l.entries...)
}

func (l *TranscriptLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *TranscriptLog) recentLocked() ([]domain.TranscriptEntry, int) {
	start := 0
	if len(l.entries) > l.window {
		start = len(l.entries) - l.window
	}
	return append([]domain.TranscriptEntry(nil), l.entries[start:]...), len(l.entries)
}
