package session

import (
	"context"
	"errors"
	"slices"

	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/logging"
)

var errUnsaved = errors.New("conversation has not been saved yet")

// Directory is the conversation list. It shares state with its Store so that
// selecting or deleting interacts with the current conversation.
type Directory struct {
	s   *Store
	log *logging.Logger
}

// Conversations returns the last fetched list.
func (d *Directory) Conversations() []domain.Conversation {
	return d.s.State().Conversations
}

// FetchConversations replaces the list with the server's. On failure the
// previous list is kept and the error is recorded.
//
// Overlapping fetches are allowed; a response older than one already applied
// is dropped, and the loading flag stays set until the last one returns.
func (d *Directory) FetchConversations(ctx context.Context) {
	d.fetch(ctx)
}

// fetch is FetchConversations reporting the list and whether it was applied.
func (d *Directory) fetch(ctx context.Context) ([]domain.Conversation, bool) {
	s := d.s
	var seq uint64
	if !s.apply(func(st *State) bool {
		s.listSeq++
		seq = s.listSeq
		s.loading++
		st.IsLoadingConversations = true
		return true
	}) {
		return nil, false
	}

	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("fetching conversations failed")
	}

	applied := false
	s.apply(func(st *State) bool {
		s.loading--
		st.IsLoadingConversations = s.loading > 0
		if err != nil {
			st.Error = describe("Failed to load conversations", err)
			st.settle()
			return true
		}
		if seq > s.listDone {
			s.listDone = seq
			st.Conversations = slices.Clone(convs)
			applied = true
		}
		return true
	})
	if !applied {
		return nil, false
	}

	d.log.Debug().Int("count", len(convs)).Msg("conversations refreshed")
	if s.cache != nil {
		if err := s.cache.SaveConversations(ctx, convs); err != nil {
			d.log.Warn().Err(err).Msg("caching conversations failed")
		}
	}
	s.emit(ctx, hooks.EventConversationsRefreshed, map[string]any{"count": len(convs)})
	return convs, true
}

// adoptDraft loads id and makes it current in place of the unsaved draft
// whose last message is last. Nothing changes if the draft was replaced or
// continued in the meantime.
func (d *Directory) adoptDraft(ctx context.Context, last, id domain.ID) {
	s := d.s
	conv, err := s.backend.GetConversation(ctx, id)
	if err != nil {
		d.log.Warn().Err(err).Str("conversation", id.String()).Msg("loading saved draft failed")
		return
	}

	if !s.apply(func(st *State) bool {
		cur := st.Current
		if cur == nil || !cur.ID.IsZero() || len(cur.Messages) == 0 || cur.Messages[len(cur.Messages)-1].ID != last {
			return false
		}
		st.setCurrent(conv.Clone())
		return true
	}) {
		d.log.Debug().Str("conversation", id.String()).Msg("draft moved on, not adopting")
		return
	}

	d.log.Debug().Str("conversation", id.String()).Msg("draft saved by server")
	if s.cache != nil {
		if err := s.cache.SaveConversation(ctx, conv); err != nil {
			d.log.Warn().Err(err).Msg("caching conversation failed")
		}
	}
}

// SelectConversation loads id with its messages and makes it current. A
// running reply belongs to the previous conversation and is abandoned once
// the load succeeds. On failure the current conversation is left alone.
func (d *Directory) SelectConversation(ctx context.Context, id domain.ID) {
	s := d.s
	var seq uint64
	if !s.apply(func(st *State) bool {
		s.selSeq++
		seq = s.selSeq
		st.IsLoadingMessages = true
		st.settle()
		return true
	}) {
		return
	}

	conv, err := s.backend.GetConversation(ctx, id)
	if err != nil {
		d.log.Warn().Err(err).Str("conversation", id.String()).Msg("loading conversation failed")
	}

	var fl *inflight
	s.apply(func(st *State) bool {
		if seq != s.selSeq {
			// A later selection owns the loading flag.
			return false
		}
		st.IsLoadingMessages = false
		if err != nil {
			st.Error = describe("Failed to load conversation", err)
			return true
		}
		fl = s.abandonLocked()
		if fl != nil {
			st.resetStream()
			st.Phase = PhaseIdle
		}
		st.setCurrent(conv.Clone())
		return true
	})
	cancelInflight(fl)

	if err == nil && s.cache != nil {
		if err := s.cache.SaveConversation(ctx, conv); err != nil {
			d.log.Warn().Err(err).Msg("caching conversation failed")
		}
	}
}

// DeleteConversation deletes id on the server, then removes it from the list
// and clears the current conversation if it was id. Nothing changes locally
// until the server confirms.
func (d *Directory) DeleteConversation(ctx context.Context, id domain.ID) {
	s := d.s
	err := errUnsaved
	if !id.IsZero() {
		err = s.backend.DeleteConversation(ctx, id)
	}
	if err != nil {
		d.log.Warn().Err(err).Str("conversation", id.String()).Msg("deleting conversation failed")
		s.apply(func(st *State) bool {
			st.Error = describe("Failed to delete conversation", err)
			st.settle()
			return true
		})
		return
	}

	var fl *inflight
	s.apply(func(st *State) bool {
		st.Conversations = domain.WithoutConversation(st.Conversations, id)
		if st.Current != nil && st.Current.ID == id {
			st.Current = nil
			fl = s.abandonLocked()
			if fl != nil {
				st.resetStream()
			}
			st.Phase = PhaseIdle
		}
		st.settle()
		return true
	})
	cancelInflight(fl)

	d.log.Info().Str("conversation", id.String()).Msg("conversation deleted")
	if s.cache != nil {
		if err := s.cache.DeleteConversation(ctx, id); err != nil {
			d.log.Warn().Err(err).Msg("removing cached conversation failed")
		}
	}
	s.emit(ctx, hooks.EventConversationDeleted, map[string]any{"conversation_id": id.String()})
}
