package usecase

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"voxlink/internal/domain"
	"voxlink/internal/ports"
)

// NewSessionID returns an opaque identifier of the form session_<9 chars>.
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// SessionContext is the process-wide identity and aggregate status. Every
// change is pushed to the event sink.
type SessionContext struct {
	events ports.EventSink

	mu     sync.Mutex
	status domain.SessionStatus
}

func NewSessionContext(id, agentURL, transcriptionURL string, events ports.EventSink) *SessionContext {
	return &SessionContext{
		events: events,
		status: domain.SessionStatus{
			SessionID:        id,
			AgentURL:         agentURL,
			TranscriptionURL: transcriptionURL,
		},
	}
}

// withSecureTransport records whether the agent origin allows capture. It
// runs before the status is first published and emits nothing.
func (s *SessionContext) withSecureTransport(secure bool) *SessionContext {
	s.status.SecureTransport = secure
	return s
}

func (s *SessionContext) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.SessionID
}

// Status returns a copy of the current status.
func (s *SessionContext) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SessionContext) SetPrimaryConnected(v bool) {
	s.update(func(st *domain.SessionStatus) { st.PrimaryConnected = v })
}

func (s *SessionContext) SetMicActive(v bool) {
	s.update(func(st *domain.SessionStatus) { st.MicActive = v })
}

func (s *SessionContext) SetMuted(v bool) {
	s.update(func(st *domain.SessionStatus) { st.Muted = v })
}

func (s *SessionContext) SetTranscriptConnected(v bool) {
	s.update(func(st *domain.SessionStatus) { st.TranscriptConnected = v })
}

// Publish re-emits the current status without changing it.
func (s *SessionContext) Publish() {
	s.events.SessionChanged(s.Status())
}

func (s *SessionContext) update(fn func(*domain.SessionStatus)) {
	s.mu.Lock()
	before := s.status
	fn(&s.status)
	after := s.status
	s.mu.Unlock()

	if before != after {
		s.events.SessionChanged(after)
	}
}
