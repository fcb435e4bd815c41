package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/soyeahso/compass/internal/logging"
)

// EventType discriminates stream events.
type EventType string

const (
	EventFragment EventType = "fragment"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one item delivered by a Stream. Exactly one done or error event
// ends the sequence.
type Event struct {
	Type     EventType
	Fragment string

	// Terminated is set on the done event when the sentinel was received.
	// A done event without it means the server closed the connection early
	// or never sent the sentinel; the two cannot be told apart.
	Terminated bool

	Err error
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// readSize is the chunk size for body reads.
const readSize = 4096

// Stream is a single, non-restartable response being consumed.
type Stream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	log    *logging.Logger

	mu        sync.Mutex
	malformed []*ProtocolError
}

// Open sends req and, on a success status, starts consuming its body.
//
// A non-2xx status or a missing body fails here, before any fragment, with a
// *TransportError. Cancelling ctx (or calling Close) aborts the underlying
// connection; the consumer then receives an error event wrapping the
// context error, or simply sees the channel closed if it stopped receiving.
func Open(ctx context.Context, doer Doer, req *http.Request, log *logging.Logger) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req = req.WithContext(ctx)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := doer.Do(req)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Message: "request cancelled", Err: ctxErr}
		}
		return nil, &TransportError{Message: "request failed", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		if resp.Body != nil {
			defer resp.Body.Close()
		}
		return nil, ErrorFromResponse(resp)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		cancel()
		return nil, &TransportError{Message: "response has no body"}
	}

	return start(ctx, cancel, resp.Body, log), nil
}

// FromBody consumes an already-open response body. It is the entry point
// for bodies obtained outside Open, such as recorded responses.
func FromBody(ctx context.Context, body io.ReadCloser, log *logging.Logger) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return start(ctx, cancel, body, log)
}

func start(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, log *logging.Logger) *Stream {
	s := &Stream{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log.Sub("stream"),
	}

	// Bodies from transports that ignore the request context still get
	// closed on cancellation, which unblocks a pending Read.
	stop := context.AfterFunc(ctx, func() { body.Close() })

	go func() {
		defer close(s.done)
		defer stop()
		s.run(ctx, body)
	}()
	return s
}

// Events returns the channel of stream events. It is closed after the
// terminal event.
func (s *Stream) Events() <-chan Event { return s.events }

// Close aborts the stream and waits for the reader goroutine to exit.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// Malformed returns the protocol violations seen so far.
func (s *Stream) Malformed() []*ProtocolError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ProtocolError, len(s.malformed))
	copy(out, s.malformed)
	return out
}

func (s *Stream) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.events)
	defer body.Close()
	defer s.cancel()

	var dec Decoder
	buf := make([]byte, readSize)
	fragments := 0

	for {
		if err := ctx.Err(); err != nil {
			s.emit(ctx, Event{Type: EventError, Err: &TransportError{Message: "stream cancelled", Err: err}})
			return
		}

		n, rerr := body.Read(buf)
		for _, line := range dec.Feed(buf[:n]) {
			switch line.Kind {
			case KindFragment:
				fragments++
				if !s.emit(ctx, Event{Type: EventFragment, Fragment: line.Payload}) {
					return
				}
			case KindDone:
				s.log.Debug().Int("fragments", fragments).Msg("stream terminated")
				s.emit(ctx, Event{Type: EventDone, Terminated: true})
				return
			case KindMalformed:
				s.recordMalformed(line.Err)
			}
		}

		if rerr == nil {
			continue
		}

		if errors.Is(rerr, io.EOF) {
			for _, line := range dec.Flush() {
				s.recordMalformed(line.Err)
			}
			s.log.Warn().Int("fragments", fragments).Msg("stream closed without terminator")
			s.emit(ctx, Event{Type: EventDone})
			return
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.emit(ctx, Event{Type: EventError, Err: &TransportError{Message: "stream cancelled", Err: ctxErr}})
			return
		}
		s.emit(ctx, Event{Type: EventError, Err: &TransportError{Message: "reading stream", Err: rerr}})
		return
	}
}

// emit delivers ev unless the stream has been cancelled. Terminal events
// after cancellation are best effort.
func (s *Stream) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		select {
		case s.events <- ev:
		default:
		}
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) recordMalformed(pe *ProtocolError) {
	s.log.Warn().Str("line", truncate(pe.Line, 120)).Str("reason", pe.Reason).Msg("malformed stream frame")
	s.mu.Lock()
	s.malformed = append(s.malformed, pe)
	s.mu.Unlock()
}
