package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/soyeahso/compass/internal/domain"
)

// ListConversations returns conversation summaries in backend order
// (newest first). Summaries carry no messages.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var items []wireConversation
	if err := c.get(ctx, agentPrefix+"/conversations", &items); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]domain.Conversation, len(items))
	for i, item := range items {
		out[i] = item.toDomain()
	}
	return out, nil
}

// GetConversation returns a conversation with its full message history.
func (c *Client) GetConversation(ctx context.Context, id domain.ID) (domain.Conversation, error) {
	if id.IsZero() {
		return domain.Conversation{}, fmt.Errorf("get conversation: empty id")
	}
	var item wireConversation
	if err := c.get(ctx, conversationPath(id), &item); err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return item.toDomain(), nil
}

// CreateConversation creates an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, in CreateConversationRequest) (domain.Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodPost, agentPrefix+"/conversations", in, true)
	if err != nil {
		return domain.Conversation{}, err
	}
	var item wireConversation
	if err := c.do(req, &item); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return item.toDomain(), nil
}

// DeleteConversation deletes a conversation and all of its messages.
func (c *Client) DeleteConversation(ctx context.Context, id domain.ID) error {
	if id.IsZero() {
		return fmt.Errorf("delete conversation: empty id")
	}
	req, err := c.newRequest(ctx, http.MethodDelete, conversationPath(id), nil, true)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func conversationPath(id domain.ID) string {
	return agentPrefix + "/conversations/" + url.PathEscape(id.String())
}
