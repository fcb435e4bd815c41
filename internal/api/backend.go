package api

import (
	"context"
	"errors"

	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/stream"
)

// Backend is the subset of the client the session engine depends on.
type Backend interface {
	StreamChat(ctx context.Context, in ChatRequest) (*stream.Stream, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id domain.ID) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, id domain.ID) error
}

var _ Backend = (*Client)(nil)

// errNotMocked is returned by MockBackend methods without a func set.
var errNotMocked = errors.New("mock: not implemented")

// MockBackend is a test double for Backend.
type MockBackend struct {
	StreamChatFunc         func(ctx context.Context, in ChatRequest) (*stream.Stream, error)
	ListConversationsFunc  func(ctx context.Context) ([]domain.Conversation, error)
	GetConversationFunc    func(ctx context.Context, id domain.ID) (domain.Conversation, error)
	DeleteConversationFunc func(ctx context.Context, id domain.ID) error
}

func (m *MockBackend) StreamChat(ctx context.Context, in ChatRequest) (*stream.Stream, error) {
	if m.StreamChatFunc != nil {
		return m.StreamChatFunc(ctx, in)
	}
	return nil, errNotMocked
}

func (m *MockBackend) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	if m.ListConversationsFunc != nil {
		return m.ListConversationsFunc(ctx)
	}
	return nil, nil
}

func (m *MockBackend) GetConversation(ctx context.Context, id domain.ID) (domain.Conversation, error) {
	if m.GetConversationFunc != nil {
		return m.GetConversationFunc(ctx, id)
	}
	return domain.Conversation{}, errNotMocked
}

func (m *MockBackend) DeleteConversation(ctx context.Context, id domain.ID) error {
	if m.DeleteConversationFunc != nil {
		return m.DeleteConversationFunc(ctx, id)
	}
	return nil
}
