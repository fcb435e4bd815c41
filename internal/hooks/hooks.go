// Package hooks dispatches session and gateway lifecycle events to
// registered handlers.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/compass/internal/logging"
)

// Event names for the hook system.
const (
	EventMessageSending         = "message_sending"
	EventStreamSettled          = "stream_settled"
	EventStreamFailed           = "stream_failed"
	EventStreamCancelled        = "stream_cancelled"
	EventConversationDeleted    = "conversation_deleted"
	EventConversationsRefreshed = "conversations_refreshed"
	EventGatewayStart           = "gateway_start"
	EventGatewayStop            = "gateway_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventMessageSending,
	EventStreamSettled,
	EventStreamFailed,
	EventStreamCancelled,
	EventConversationDeleted,
	EventConversationsRefreshed,
	EventGatewayStart,
	EventGatewayStop,
}

// Known reports whether event is one of AllEvents.
func Known(event string) bool {
	return slices.Contains(AllEvents, event)
}

// Payload is what a handler receives; command hooks get it as JSON.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. An error is logged and does not stop the
// remaining handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager holds handlers per event. Async dispatches are tracked so a
// short-lived process can wait for its hooks before exiting.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	pending  sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers handler under name. Unknown event names are accepted but
// logged, since nothing will ever emit them.
func (m *Manager) On(event, name string, handler Handler) {
	if !Known(event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("hook registered for unknown event")
	}
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.mu.Unlock()
}

// Off removes every handler registered under name for event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

// Emit runs the handlers for event in registration order and returns when
// all of them have.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.run(ctx, h, p)
	}
}

// EmitAsync starts every handler for event on its own goroutine and
// returns immediately. Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			m.run(ctx, h, p)
		}()
	}
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg("hook failed")
	}
}

// Wait blocks until every handler started by EmitAsync has returned, or
// ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns, sorted, the events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []string
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	slices.Sort(events)
	return events
}
