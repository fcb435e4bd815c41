package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler fills in the rest.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleState returns the current session snapshot to holders of the
// gateway token.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !Authorize(s.auth, &ConnectAuth{Token: token}).OK {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt).Truncate(time.Second)
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs. Context is cancelled
// when the request times out or the server closes.
type RequestContext struct {
	Context context.Context
	Client  *Client
	Frame   Frame
	Server  *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into target.
func (rc *RequestContext) Params(target any) error {
	return rc.Frame.decodeParams(target)
}
