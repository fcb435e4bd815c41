package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn in a conversation. Messages are values and are never
// modified after creation.
type Message struct {
	ID        ID        `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Provisional reports whether the message id was generated locally and has
// not been confirmed by the backend.
func (m Message) Provisional() bool {
	return strings.HasPrefix(string(m.ID), ProvisionalPrefix)
}

// ProvisionalPrefix marks locally generated message ids.
const ProvisionalPrefix = "local-"
