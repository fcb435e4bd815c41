package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/compass/internal/logging"
)

// ErrClientClosed is returned when writing to a closed client.
var ErrClientClosed = errors.New("client connection closed")

var errBadFrame = errors.New("malformed frame")

const writeTimeout = 10 * time.Second

// Client represents an authenticated WebSocket connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	// session.state events at or below floor are stale. It starts at the
	// maximum so nothing is sent before the hello.
	floor uint64
	log   *logging.Logger
}

// NewClient creates a Client for a newly authenticated WebSocket connection.
func NewClient(conn *websocket.Conn, info ClientInfo, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		Socket:      conn,
		ConnectedAt: time.Now(),
		floor:       math.MaxUint64,
		log:         log,
	}
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(frame)
}

func (c *Client) writeLocked(f Frame) error {
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Socket.WriteJSON(f)
}

// greet writes the hello response. build runs under the send lock so no
// broadcast can overtake the hello, and returns the seq of the snapshot the
// hello carries.
func (c *Client) greet(build func() (Frame, uint64, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	f, floor, err := build()
	if err != nil {
		return err
	}
	c.floor = floor
	return c.writeLocked(f)
}

// sendState sends a session.state event unless the client's hello already
// covered it.
func (c *Client) sendState(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && f.Seq <= c.floor {
		return nil
	}
	return c.writeLocked(f)
}

func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame. A frame that is not valid JSON is an
// error; the read loop answers it and keeps the connection.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return f, nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Socket == nil {
		return nil
	}
	return c.Socket.Close()
}

// ClientRegistry manages connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get looks up a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends an event frame to all connected clients. The frame is
// encoded once; a client that fails to receive it is closed.
func (r *ClientRegistry) Broadcast(event string, payload any, seq uint64) {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return
	}
	for _, c := range r.snapshot() {
		send := c.Send
		if event == EventSessionState {
			send = c.sendState
		}
		if err := send(f); err != nil && !errors.Is(err, ErrClientClosed) {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("broadcast send failed, dropping client")
			c.Close()
		}
	}
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
