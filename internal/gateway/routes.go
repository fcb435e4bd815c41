package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/soyeahso/compass/internal/domain"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/state", s.handleState)

	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("session.state", s.rpcSessionState)
	s.Handle("session.new", s.rpcSessionNew)
	s.Handle("session.clearError", s.rpcSessionClearError)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("chat.cancel", s.rpcChatCancel)
	s.Handle("conversations.list", s.rpcConversationsList)
	s.Handle("conversations.select", s.rpcConversationsSelect)
	s.Handle("conversations.delete", s.rpcConversationsDelete)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		Uptime:  s.uptime().String(),
		Phase:   string(s.session.State().Phase),
	})
}

func (s *Server) rpcSessionState(rc *RequestContext) {
	rc.Respond(s.session.State())
}

func (s *Server) rpcSessionNew(rc *RequestContext) {
	s.session.StartNewConversation()
	rc.Respond(s.session.State())
}

func (s *Server) rpcSessionClearError(rc *RequestContext) {
	s.session.ClearError()
	rc.Respond(s.session.State())
}

type chatSendParams struct {
	Content string `json:"content"`
}

// rpcChatSend starts a send and acknowledges it at once. Progress reaches
// the client as session.state events.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if strings.TrimSpace(p.Content) == "" {
		rc.RespondError(CodeInvalidParams, "content is required")
		return
	}

	started := s.goWork(func(ctx context.Context) {
		s.session.Send(ctx, p.Content)
	})
	if !started {
		rc.RespondError(CodeUnavailable, "gateway is shutting down")
		return
	}
	s.log.Debug().Str("connId", rc.Client.ConnID).Int("chars", len(p.Content)).Msg("chat send accepted")
	rc.Respond(map[string]any{"accepted": true})
}

func (s *Server) rpcChatCancel(rc *RequestContext) {
	rc.Respond(map[string]any{"cancelled": s.session.Cancel()})
}

func (s *Server) rpcConversationsList(rc *RequestContext) {
	s.session.FetchConversations(rc.Context)
	rc.Respond(s.session.State())
}

type conversationParams struct {
	ID domain.ID `json:"id"`
}

func (rc *RequestContext) conversationID() (domain.ID, bool) {
	var p conversationParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return "", false
	}
	if p.ID.IsZero() {
		rc.RespondError(CodeInvalidParams, "id is required")
		return "", false
	}
	return p.ID, true
}

func (s *Server) rpcConversationsSelect(rc *RequestContext) {
	id, ok := rc.conversationID()
	if !ok {
		return
	}
	s.session.SelectConversation(rc.Context, id)
	rc.Respond(s.session.State())
}

func (s *Server) rpcConversationsDelete(rc *RequestContext) {
	id, ok := rc.conversationID()
	if !ok {
		return
	}
	s.session.DeleteConversation(rc.Context, id)
	rc.Respond(s.session.State())
}
