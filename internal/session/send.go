package session

import (
	"context"
	"strings"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/stream"
)

// Send appends content to the current conversation as a provisional user
// message and streams the assistant's reply into it. It blocks until the
// reply settles, fails or is cancelled; the outcome is reported through
// State, never as a return value.
//
// A send already running is cancelled first and its results are discarded.
// The user message is not removed when the send fails.
func (s *Store) Send(ctx context.Context, content string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fl := &inflight{cancel: cancel, done: make(chan struct{})}
	defer close(fl.done)

	now := s.now()
	user := domain.Message{ID: s.newID(), Role: domain.RoleUser, Content: content, CreatedAt: now}

	// The previous send is detached and this one installed in a single step,
	// so at most one send is ever active.
	var prev *inflight
	var req api.ChatRequest
	var convID domain.ID
	ok := s.apply(func(st *State) bool {
		prev = s.abandonLocked()
		fl.gen = s.gen
		s.active = fl

		conv := domain.NewPlaceholder(s.placeholderTitle, now)
		if st.Current != nil {
			conv = *st.Current
		}
		st.setCurrent(conv.WithMessage(user))
		st.resetStream()
		st.Phase = PhaseSending
		convID = conv.ID
		req = api.ChatRequest{Message: content, ConversationID: conv.ID}
		return true
	})
	if !ok {
		s.log.Warn().Msg("send on closed session ignored")
		return
	}
	if prev != nil {
		s.log.Debug().Uint64("gen", prev.gen).Msg("cancelling running send")
		prev.cancel()
		<-prev.done
	}
	gen := fl.gen
	s.log.Debug().Uint64("gen", gen).Str("conversation", convID.String()).Int("len", len(content)).Msg("sending message")
	s.emit(ctx, hooks.EventMessageSending, map[string]any{
		"conversation_id": convID.String(),
		"message_id":      user.ID.String(),
		"content":         content,
	})

	if !s.applyGen(gen, func(st *State) {
		st.resetStream()
		st.IsStreaming = true
		st.Error = ""
		st.Phase = PhaseStreaming
	}) {
		return
	}

	str, err := s.backend.StreamChat(ctx, req)
	if err != nil {
		s.fail(ctx, gen, err)
		return
	}
	defer str.Close()

	var reply strings.Builder
	for {
		select {
		case <-ctx.Done():
			s.fail(ctx, gen, ctx.Err())
			return
		case ev, open := <-str.Events():
			if !open {
				s.fail(ctx, gen, context.Canceled)
				return
			}
			switch ev.Type {
			case stream.EventFragment:
				reply.WriteString(ev.Fragment)
				text := reply.String()
				if !s.applyGen(gen, func(st *State) { st.StreamingContent = text }) {
					return
				}
			case stream.EventDone:
				if !ev.Terminated {
					s.log.Warn().Uint64("gen", gen).Int("len", reply.Len()).Msg("reply ended without terminator, keeping what arrived")
				}
				s.settle(ctx, gen, reply.String(), ev.Terminated)
				return
			case stream.EventError:
				s.fail(ctx, gen, ev.Err)
				return
			}
		}
	}
}

func (s *Store) settle(ctx context.Context, gen uint64, text string, terminated bool) {
	reply := domain.Message{ID: s.newID(), Role: domain.RoleAssistant, Content: text, CreatedAt: s.now()}

	var conv domain.Conversation
	if !s.applyGen(gen, func(st *State) {
		s.active = nil
		if st.Current == nil {
			st.setCurrent(domain.NewPlaceholder(s.placeholderTitle, reply.CreatedAt))
		}
		st.setCurrent(st.Current.WithMessage(reply))
		conv = *st.Current
		st.resetStream()
		st.Phase = PhaseSettled
	}) {
		return
	}

	s.log.Debug().Uint64("gen", gen).Int("len", len(text)).Msg("reply settled")
	s.emit(ctx, hooks.EventStreamSettled, map[string]any{
		"conversation_id": conv.ID.String(),
		"message_id":      reply.ID.String(),
		"content":         text,
		"terminated":      terminated,
	})

	// The server assigns ids and titles; pick them up from the list. A draft
	// is replaced by the conversation the server created for it.
	draft := conv.ID.IsZero()
	s.goBackground(func(ctx context.Context) {
		convs, applied := s.dir.fetch(ctx)
		if draft && applied && len(convs) > 0 {
			s.dir.adoptDraft(ctx, reply.ID, convs[0].ID)
		}
	})
}

func (s *Store) fail(ctx context.Context, gen uint64, err error) {
	// Only the send's own context decides between cancel and failure.
	cancelled := false
	switch ctx.Err() {
	case context.Canceled:
		cancelled = true
	case context.DeadlineExceeded:
		err = context.DeadlineExceeded
	}

	var msg string
	if !s.applyGen(gen, func(st *State) {
		s.active = nil
		st.resetStream()
		if cancelled {
			st.Phase = PhaseIdle
			return
		}
		msg = describe("Failed to send message", err)
		st.Error = msg
		st.Phase = PhaseFailed
	}) {
		s.log.Debug().Uint64("gen", gen).Msg("superseded send finished")
		return
	}

	if cancelled {
		s.log.Info().Uint64("gen", gen).Msg("send cancelled")
		s.emit(ctx, hooks.EventStreamCancelled, nil)
		return
	}
	s.log.Warn().Err(err).Uint64("gen", gen).Msg("send failed")
	s.emit(ctx, hooks.EventStreamFailed, map[string]any{
		"error":  msg,
		"status": stream.StatusCode(err),
	})
}
