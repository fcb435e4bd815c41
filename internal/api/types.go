package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/compass/internal/domain"
)

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message        string    `json:"message"`
	ConversationID domain.ID `json:"conversation_id,omitempty"`
}

// ChatResponse is returned by the non-streaming chat endpoint.
type ChatResponse struct {
	ConversationID domain.ID
	Message        domain.Message // the user's message as persisted
	Response       domain.Message // the assistant's reply
}

// CreateConversationRequest is the body for creating an empty conversation.
type CreateConversationRequest struct {
	Title       string    `json:"title,omitempty"`
	ContextType string    `json:"context_type,omitempty"`
	ContextID   domain.ID `json:"context_id,omitempty"`
}

// Health is the backend's health payload.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// wireTime parses the backend's ISO-8601 timestamps, which may omit the zone
// for naive database values. Zone-less values are taken as UTC.
type wireTime time.Time

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = wireTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = wireTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

type wireMessage struct {
	ID        domain.ID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt wireTime  `json:"created_at"`
}

func (m wireMessage) toDomain() domain.Message {
	return domain.Message{
		ID:        m.ID,
		Role:      domain.Role(m.Role),
		Content:   m.Content,
		CreatedAt: time.Time(m.CreatedAt),
	}
}

type wireConversation struct {
	ID          domain.ID     `json:"id"`
	Title       *string       `json:"title"`
	ContextType *string       `json:"context_type"`
	ContextID   domain.ID     `json:"context_id"`
	Messages    []wireMessage `json:"messages"`
	CreatedAt   wireTime      `json:"created_at"`
	UpdatedAt   wireTime      `json:"updated_at"`
}

func (c wireConversation) toDomain() domain.Conversation {
	conv := domain.Conversation{
		ID:        c.ID,
		ContextID: c.ContextID,
		CreatedAt: time.Time(c.CreatedAt),
		UpdatedAt: time.Time(c.UpdatedAt),
	}
	if c.Title != nil {
		conv.Title = *c.Title
	}
	if c.ContextType != nil {
		conv.ContextType = *c.ContextType
	}
	if c.Messages != nil {
		conv.Messages = make([]domain.Message, len(c.Messages))
		for i, m := range c.Messages {
			conv.Messages[i] = m.toDomain()
		}
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
		if last, ok := conv.LastMessage(); ok && last.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = last.CreatedAt
		}
	}
	return conv
}

type wireChatResponse struct {
	ConversationID domain.ID   `json:"conversation_id"`
	Message        wireMessage `json:"message"`
	Response       wireMessage `json:"response"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
