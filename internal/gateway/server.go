// Package gateway exposes a session over HTTP and WebSocket so a separate
// front end can drive it: requests map to session operations and every
// state transition is pushed to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/compass/internal/config"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/logging"
	"github.com/soyeahso/compass/internal/session"
	"github.com/soyeahso/compass/internal/version"
)

const (
	handshakeTimeout = 10 * time.Second
	rpcTimeout       = time.Minute
)

// Server is the gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	session  *session.Store
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	hooks    *hooks.Manager

	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
	pump        *statePump
	unsubscribe func()

	// ctx outlives single requests; chat.send runs under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	work      sync.WaitGroup
	addr      string
	startedAt time.Time
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithAuth overrides the resolved authentication.
func WithAuth(auth ResolvedAuth) ServerOption {
	return func(s *Server) { s.auth = auth }
}

// New creates a gateway for store and starts forwarding its transitions.
// Close releases it.
func New(cfg config.GatewayConfig, store *session.Store, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.Sub("gateway"),
		session:     store,
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		pump:        newStatePump(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth.Token == "" {
		s.auth = ResolveAuth(cfg.Auth)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.registerRPCHandlers()

	s.unsubscribe = store.Subscribe(s.pump.push)
	go s.pump.run(s.ctx, func(st session.State) {
		s.clients.Broadcast(EventSessionState, st, st.Seq)
	})
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// Requests without an Origin come from non-browser clients and are allowed;
// browser origins must be listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Auth returns the token clients must present.
func (s *Server) Auth() ResolvedAuth {
	return s.auth
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// Start listens for HTTP and WebSocket connections and blocks until ctx is
// cancelled or the server fails. The server is closed on return.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	httpServer := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("gateway is reachable beyond loopback without TLS; put it behind a TLS proxy")
	}
	s.log.Info().
		Str("addr", s.addr).
		Str("bind", s.cfg.Bind).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.addr})
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close stops forwarding transitions, aborts sends started by clients and
// disconnects everyone. The session itself is left open.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	s.work.Wait()
	<-s.pump.done
	s.clients.CloseAll()
	s.authLimiter.Close()
}

// goWork runs fn under the server context, tracked by Close.
func (s *Server) goWork(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.work.Add(1)
	go func() {
		defer s.work.Done()
		fn(s.ctx)
	}()
	return true
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	reqID := requestIDFrom(r.Context())
	s.log.Debug().Str("remote", r.RemoteAddr).Str("requestId", reqID).Msg("new websocket connection")

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Str("requestId", reqID).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// handshake performs the WebSocket authentication handshake.
// Flow: server sends challenge → client sends connect → server validates → sends hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.NewString(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := frame.decodeParams(&params); err != nil {
		sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, fmt.Sprintf("protocol %d required", ProtocolVersion))
		return nil, fmt.Errorf("client max protocol %d too old", params.MaxProtocol)
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, s.log.Sub("ws"))

	// Register before taking the snapshot so no transition falls between
	// the hello and the first broadcast.
	s.clients.Add(client)
	err = client.greet(func() (Frame, uint64, error) {
		st := s.session.State()
		f, err := NewResponse(frame.ID, HelloOK{
			Protocol: ProtocolVersion,
			Server: ServerInfo{
				Version: s.version,
				Commit:  version.Commit,
				ConnID:  client.ConnID,
			},
			Features: Features{
				Methods: s.Methods(),
				Events:  pushedEvents,
			},
			Policy: ServerPolicy{MaxPayload: maxPayload},
			State:  st,
		})
		return f, st.Seq, err
	})
	if err != nil {
		s.clients.Remove(client.ConnID)
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Msg("client authenticated")
	return client, nil
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if errors.Is(err, errBadFrame) {
			s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("bad frame")
			client.RespondError("", ErrorShape{Code: CodeProtocol, Message: "frame is not valid JSON"})
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, rpcTimeout)
	defer cancel()
	handler(&RequestContext{
		Context: ctx,
		Client:  client,
		Frame:   frame,
		Server:  s,
	})
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
