package session

import "github.com/soyeahso/compass/internal/domain"

// Phase is the position of the send state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseSettled   Phase = "settled"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether p ends a send.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseFailed
}

// State is an immutable snapshot of the session.
//
// Slices and the Current pointer are shared between snapshots but are never
// written through: every change installs a new slice or a new Conversation.
type State struct {
	Conversations          []domain.Conversation `json:"conversations"`
	Current                *domain.Conversation  `json:"currentConversation"`
	IsLoadingConversations bool                  `json:"isLoadingConversations"`
	IsLoadingMessages      bool                  `json:"isLoadingMessages"`
	IsStreaming            bool                  `json:"isStreaming"`
	StreamingContent       string                `json:"streamingContent"`
	Error                  string                `json:"error,omitempty"`
	Phase                  Phase                 `json:"phase"`

	// Seq increases by one on every transition.
	Seq uint64 `json:"seq"`
}

// CurrentID returns the id of the current conversation, or the zero ID when
// there is none or it has not been persisted.
func (s State) CurrentID() domain.ID {
	if s.Current == nil {
		return ""
	}
	return s.Current.ID
}

// Messages returns the current conversation's messages.
func (s State) Messages() []domain.Message {
	if s.Current == nil {
		return nil
	}
	return s.Current.Messages
}

// settle moves a finished send back to idle ahead of another action.
func (s *State) settle() {
	if s.Phase.Terminal() {
		s.Phase = PhaseIdle
	}
}

// resetStream clears the streaming buffer. The two fields change together.
func (s *State) resetStream() {
	s.IsStreaming = false
	s.StreamingContent = ""
}

func (s *State) setCurrent(c domain.Conversation) {
	s.Current = &c
}
