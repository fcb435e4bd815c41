package domain

import "time"

// DefaultTitle names a conversation that has not been persisted yet.
const DefaultTitle = "New Conversation"

// Conversation is a titled, ordered collection of messages.
//
// Conversations are treated as immutable values: every change produces a new
// Conversation with a fresh Messages slice, so a snapshot handed to an
// observer is never modified underneath it.
type Conversation struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	ContextType string    `json:"context_type,omitempty"`
	ContextID   ID        `json:"context_id,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// NewPlaceholder returns an unpersisted conversation with the given title.
func NewPlaceholder(title string, now time.Time) Conversation {
	if title == "" {
		title = DefaultTitle
	}
	return Conversation{
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Persisted reports whether the backend has assigned an id.
func (c Conversation) Persisted() bool { return !c.ID.IsZero() }

// WithMessage returns a copy of c with msg appended. If a message with the
// same id is already present, c is returned unchanged.
func (c Conversation) WithMessage(msg Message) Conversation {
	if c.HasMessage(msg.ID) {
		return c
	}
	msgs := make([]Message, len(c.Messages), len(c.Messages)+1)
	copy(msgs, c.Messages)
	c.Messages = append(msgs, msg)
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	return c
}

// HasMessage reports whether a message with id exists in c.
func (c Conversation) HasMessage(id ID) bool {
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Summary returns a copy of c without its message history.
func (c Conversation) Summary() Conversation {
	c.Messages = nil
	return c
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	if c.Messages != nil {
		msgs := make([]Message, len(c.Messages))
		copy(msgs, c.Messages)
		c.Messages = msgs
	}
	return c
}

// LastMessage returns the most recent message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// WithoutConversation returns a new slice with every conversation whose id
// equals id removed. The input slice is not modified.
func WithoutConversation(list []Conversation, id ID) []Conversation {
	out := make([]Conversation, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
