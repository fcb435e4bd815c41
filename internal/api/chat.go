package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/soyeahso/compass/internal/stream"
)

// StreamChat sends a message and returns the streamed reply. A zero
// ConversationID asks the backend to start a new conversation.
func (c *Client) StreamChat(ctx context.Context, in ChatRequest) (*stream.Stream, error) {
	req, err := c.newRequest(ctx, http.MethodPost, agentPrefix+"/chat/stream", in, true)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("conversation", in.ConversationID.String()).
		Int("length", len(in.Message)).
		Str("requestId", req.Header.Get("X-Request-ID")).
		Msg("opening chat stream")

	s, err := stream.Open(ctx, c.stream, req, c.log)
	if err != nil {
		return nil, fmt.Errorf("chat stream: %w", err)
	}
	return s, nil
}

// Chat sends a message and waits for the complete reply.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (*ChatResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, agentPrefix+"/chat", in, true)
	if err != nil {
		return nil, err
	}
	var out wireChatResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return &ChatResponse{
		ConversationID: out.ConversationID,
		Message:        out.Message.toDomain(),
		Response:       out.Response.toDomain(),
	}, nil
}
