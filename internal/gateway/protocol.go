package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/soyeahso/compass/internal/session"
)

// ProtocolVersion is the only protocol revision this server speaks.
const ProtocolVersion = 1

// maxPayload bounds a single inbound frame.
const maxPayload = 1 << 20

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Events pushed by the server.
const (
	EventConnectChallenge = "connect.challenge"
	EventSessionState     = "session.state"
)

// pushedEvents is advertised in the hello.
var pushedEvents = []string{EventConnectChallenge, EventSessionState}

// Frame is the envelope of every WebSocket message. Requests use ID, Method
// and Params; responses use ID, OK and Payload or Error; events use Event,
// Payload and Seq.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`
}

// decodeParams unmarshals the request params into v. Absent or null params
// leave v untouched.
func (f Frame) decodeParams(v any) error {
	if len(f.Params) == 0 || bytes.Equal(f.Params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(f.Params, v); err != nil {
		return fmt.Errorf("params for %s: %w", f.Method, err)
	}
	return nil
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Error codes.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeUnauthorized   = "unauthorized"
	CodeMethodNotFound = "method_not_found"
	CodeUnavailable    = "unavailable"
)

// ConnectParams open a connection. A client that only speaks protocols
// below ProtocolVersion is turned away.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
}

type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

// HelloOK answers a successful connect. State is the snapshot the client
// starts from; every later session.state event carries a higher seq.
type HelloOK struct {
	Protocol int           `json:"protocol"`
	Server   ServerInfo    `json:"server"`
	Features Features      `json:"features"`
	Policy   ServerPolicy  `json:"policy"`
	State    session.State `json:"state"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload int `json:"maxPayload"`
}

func marshalPayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame payload: %w", err)
	}
	return raw, nil
}

// NewRequest builds a request frame. Servers never send these; clients and
// tests do.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

func NewResponse(id string, payload any) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

// NewEvent builds an event frame. A zero seq is omitted on the wire; only
// session.state events are sequenced.
func NewEvent(event string, payload any, seq uint64) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
