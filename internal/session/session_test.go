package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/logging"
	"github.com/soyeahso/compass/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func counterIDs() func() domain.ID {
	var n atomic.Int64
	return func() domain.ID {
		return domain.ID(fmt.Sprintf("%s%d", domain.ProvisionalPrefix, n.Add(1)))
	}
}

func newStore(t *testing.T, backend api.Backend, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithLogger(silentLog()),
		WithIDGenerator(counterIDs()),
		WithClock(func() time.Time { return fixedNow }),
	}
	s := New(backend, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s
}

// sseReply returns a StreamChatFunc serving body as the response.
func sseReply(body string) func(context.Context, api.ChatRequest) (*stream.Stream, error) {
	return func(ctx context.Context, _ api.ChatRequest) (*stream.Stream, error) {
		return stream.FromBody(ctx, io.NopCloser(strings.NewReader(body)), silentLog()), nil
	}
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func record(s *Store) *recorder {
	r := &recorder{}
	s.Subscribe(func(st State) {
		r.mu.Lock()
		r.states = append(r.states, st)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) streamed() []string {
	var out []string
	for _, st := range r.all() {
		if st.StreamingContent != "" && (len(out) == 0 || out[len(out)-1] != st.StreamingContent) {
			out = append(out, st.StreamingContent)
		}
	}
	return out
}

func conv(id string, title string, msgs ...domain.Message) domain.Conversation {
	return domain.Conversation{ID: domain.ID(id), Title: title, Messages: msgs, CreatedAt: fixedNow}
}

func TestSend_StreamsReplyIntoPlaceholder(t *testing.T) {
	var listed atomic.Int32
	var got api.ChatRequest
	saved := conv("41", "hello...",
		domain.Message{ID: "410", Role: domain.RoleUser, Content: "hello"},
		domain.Message{ID: "411", Role: domain.RoleAssistant, Content: "Hithere!"},
	)
	backend := &api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			got = in
			return sseReply("data: Hi\n\ndata: there!\n\ndata: [DONE]\n\n")(ctx, in)
		},
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			listed.Add(1)
			return []domain.Conversation{conv("41", "hello...")}, nil
		},
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			return saved, nil
		},
	}
	s := newStore(t, backend)
	rec := record(s)

	s.Send(context.Background(), "hello")
	s.Wait()

	assert.Equal(t, "hello", got.Message)
	assert.True(t, got.ConversationID.IsZero())

	states := rec.all()
	require.GreaterOrEqual(t, len(states), 5)
	phases := []Phase{states[0].Phase, states[1].Phase, states[2].Phase, states[3].Phase, states[4].Phase}
	assert.Equal(t, []Phase{PhaseSending, PhaseStreaming, PhaseStreaming, PhaseStreaming, PhaseSettled}, phases)

	// The optimistic message is visible before any network activity.
	require.NotNil(t, states[0].Current)
	assert.Len(t, states[0].Current.Messages, 1)
	assert.False(t, states[0].IsStreaming)

	settled := states[4]
	require.NotNil(t, settled.Current)
	assert.True(t, settled.Current.ID.IsZero())
	assert.Equal(t, domain.DefaultTitle, settled.Current.Title)
	require.Len(t, settled.Current.Messages, 2)
	assert.Equal(t, domain.RoleUser, settled.Current.Messages[0].Role)
	assert.Equal(t, "hello", settled.Current.Messages[0].Content)
	assert.True(t, settled.Current.Messages[0].Provisional())
	assert.Equal(t, domain.RoleAssistant, settled.Current.Messages[1].Role)
	assert.Equal(t, "Hithere!", settled.Current.Messages[1].Content)
	assert.False(t, settled.IsStreaming)
	assert.Empty(t, settled.StreamingContent)

	assert.Equal(t, []string{"Hi", "Hithere!"}, rec.streamed())

	st := s.State()
	assert.Empty(t, st.Error)
	assert.Equal(t, PhaseSettled, st.Phase)
	assert.Equal(t, int32(1), listed.Load(), "completion refreshes the directory")
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, domain.ID("41"), st.Conversations[0].ID)

	// The draft is replaced by the conversation the server created.
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("41"), st.Current.ID)
	assert.Equal(t, "hello...", st.Current.Title)
	require.Len(t, st.Current.Messages, 2)
	assert.Equal(t, domain.ID("411"), st.Current.Messages[1].ID)
	assert.Len(t, saved.Messages, 2, "loaded conversation is not mutated")
}

func TestSend_SecondTurnContinuesSavedDraft(t *testing.T) {
	var mu sync.Mutex
	var reqs []api.ChatRequest
	backend := &api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			mu.Lock()
			reqs = append(reqs, in)
			mu.Unlock()
			return sseReply("data: ok\ndata: [DONE]\n")(ctx, in)
		},
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return []domain.Conversation{conv("41", "first"), conv("9", "older")}, nil
		},
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			return conv(string(id), "first",
				domain.Message{ID: "1", Role: domain.RoleUser, Content: "first"},
				domain.Message{ID: "2", Role: domain.RoleAssistant, Content: "ok"},
			), nil
		},
	}
	s := newStore(t, backend)

	s.Send(context.Background(), "first")
	s.Wait()
	s.Send(context.Background(), "second")
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].ConversationID.IsZero())
	assert.Equal(t, domain.ID("41"), reqs[1].ConversationID)

	st := s.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("41"), st.Current.ID)
	require.Len(t, st.Current.Messages, 4)
	assert.Equal(t, "second", st.Current.Messages[2].Content)
}

func TestSend_DraftNotAdoptedAfterNewConversation(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var gets atomic.Int32
	backend := &api.MockBackend{
		StreamChatFunc: sseReply("data: ok\ndata: [DONE]\n"),
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			close(entered)
			<-release
			return []domain.Conversation{conv("41", "first")}, nil
		},
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			gets.Add(1)
			return conv(string(id), "first"), nil
		},
	}
	s := newStore(t, backend)

	s.Send(context.Background(), "first")
	waitFor(t, entered)
	s.StartNewConversation()
	close(release)
	s.Wait()

	st := s.State()
	assert.Nil(t, st.Current)
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, int32(1), gets.Load())
}

func TestSend_DraftKeptWhenLoadFails(t *testing.T) {
	backend := &api.MockBackend{
		StreamChatFunc: sseReply("data: ok\ndata: [DONE]\n"),
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return []domain.Conversation{conv("41", "first")}, nil
		},
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			return domain.Conversation{}, &stream.TransportError{StatusCode: 502, Message: "bad gateway"}
		},
	}
	s := newStore(t, backend)

	s.Send(context.Background(), "first")
	s.Wait()

	st := s.State()
	require.NotNil(t, st.Current)
	assert.True(t, st.Current.ID.IsZero())
	assert.Len(t, st.Current.Messages, 2)
	assert.Empty(t, st.Error)
	assert.Equal(t, PhaseSettled, st.Phase)
}

func TestSend_NotificationsHaveIncreasingSeq(t *testing.T) {
	s := newStore(t, &api.MockBackend{StreamChatFunc: sseReply("data: a\ndata: b\ndata: [DONE]\n")})
	rec := record(s)

	s.Send(context.Background(), "x")
	s.Wait()

	var last uint64
	for _, st := range rec.all() {
		assert.Greater(t, st.Seq, last)
		last = st.Seq
	}
}

func TestSend_ExistingConversationCarriesID(t *testing.T) {
	history := conv("7", "Trip", domain.Message{ID: "70", Role: domain.RoleUser, Content: "plan a trip"})
	var got api.ChatRequest
	backend := &api.MockBackend{
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			return history, nil
		},
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			got = in
			return sseReply("data: Sure\ndata: [DONE]\n")(ctx, in)
		},
	}
	s := newStore(t, backend)

	s.SelectConversation(context.Background(), "7")
	s.Send(context.Background(), "to Lisbon")
	s.Wait()

	assert.Equal(t, domain.ID("7"), got.ConversationID)
	st := s.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("7"), st.Current.ID)
	require.Len(t, st.Current.Messages, 3)
	assert.Equal(t, "Sure", st.Current.Messages[2].Content)
	assert.Len(t, history.Messages, 1, "loaded conversation is not mutated")
}

func TestSend_FailureKeepsOptimisticMessage(t *testing.T) {
	var listed atomic.Int32
	backend := &api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			return nil, &stream.TransportError{StatusCode: 500, Message: "model unavailable"}
		},
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			listed.Add(1)
			return nil, nil
		},
	}
	s := newStore(t, backend)

	s.Send(context.Background(), "hello")
	s.Wait()

	st := s.State()
	require.NotNil(t, st.Current)
	require.Len(t, st.Current.Messages, 1, "user message is not rolled back")
	assert.Equal(t, "hello", st.Current.Messages[0].Content)
	assert.Equal(t, "Failed to send message: model unavailable", st.Error)
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.StreamingContent)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Zero(t, listed.Load())
}

func TestSend_MidStreamFailureDiscardsBuffer(t *testing.T) {
	backend := &api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			body := io.MultiReader(strings.NewReader("data: partial\n"), iotest.ErrReader(errors.New("connection reset")))
			return stream.FromBody(ctx, io.NopCloser(body), silentLog()), nil
		},
	}
	s := newStore(t, backend)
	rec := record(s)

	s.Send(context.Background(), "hello")

	assert.Equal(t, []string{"partial"}, rec.streamed())
	st := s.State()
	assert.Contains(t, st.Error, "connection reset")
	assert.Empty(t, st.StreamingContent)
	assert.False(t, st.IsStreaming)
	require.NotNil(t, st.Current)
	assert.Len(t, st.Current.Messages, 1)
}

func TestSend_DisconnectWithoutTerminatorSettles(t *testing.T) {
	s := newStore(t, &api.MockBackend{StreamChatFunc: sseReply("data: cut\ndata:  off")})

	s.Send(context.Background(), "hello")
	s.Wait()

	st := s.State()
	assert.Equal(t, PhaseSettled, st.Phase)
	require.Len(t, st.Current.Messages, 2)
	assert.Equal(t, "cut", st.Current.Messages[1].Content, "truncated trailing frame is not yielded")
}

func TestSend_ClearsPreviousError(t *testing.T) {
	backend := &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return nil, &stream.TransportError{StatusCode: 503, Message: "down"}
		},
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			return stream.FromBody(ctx, io.NopCloser(strings.NewReader("data: ok\n")), silentLog()), nil
		},
	}
	s := newStore(t, backend)
	s.FetchConversations(context.Background())
	require.NotEmpty(t, s.State().Error)

	rec := record(s)
	s.Send(context.Background(), "again")

	states := rec.all()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, PhaseStreaming, states[1].Phase)
	assert.Empty(t, states[1].Error)
}

// pipeReply serves each StreamChat call from its own pipe.
type pipeReply struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	calls   chan struct{}
}

func newPipeReply() *pipeReply {
	return &pipeReply{calls: make(chan struct{}, 8)}
}

func (p *pipeReply) stream(ctx context.Context, _ api.ChatRequest) (*stream.Stream, error) {
	pr, pw := io.Pipe()
	p.mu.Lock()
	p.writers = append(p.writers, pw)
	p.mu.Unlock()
	p.calls <- struct{}{}
	return stream.FromBody(ctx, pr, silentLog()), nil
}

func (p *pipeReply) writer(i int) *io.PipeWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers[i]
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}

func TestCancel_ResetsBufferWithoutError(t *testing.T) {
	pipes := newPipeReply()
	s := newStore(t, &api.MockBackend{StreamChatFunc: pipes.stream})

	typing := make(chan struct{}, 1)
	s.Subscribe(func(st State) {
		if st.StreamingContent == "a" {
			select {
			case typing <- struct{}{}:
			default:
			}
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Send(context.Background(), "hello")
	}()

	waitFor(t, pipes.calls)
	go pipes.writer(0).Write([]byte("data: a\n"))
	waitFor(t, typing)

	assert.True(t, s.Cancel())
	waitFor(t, done)

	st := s.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Error)
	assert.Empty(t, st.StreamingContent)
	assert.False(t, st.IsStreaming)
	require.NotNil(t, st.Current)
	assert.Len(t, st.Current.Messages, 1)

	assert.False(t, s.Cancel(), "nothing left to cancel")
}

func TestSend_ContextDeadlineFails(t *testing.T) {
	pipes := newPipeReply()
	s := newStore(t, &api.MockBackend{StreamChatFunc: pipes.stream})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Send(ctx, "hello")

	st := s.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, "Failed to send message: the request timed out", st.Error)
}

func TestSend_CancelsRunningSend(t *testing.T) {
	pipes := newPipeReply()
	calls := 0
	backend := &api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			calls++
			if calls == 1 {
				return pipes.stream(ctx, in)
			}
			return sseReply("data: second reply\ndata: [DONE]\n")(ctx, in)
		},
	}
	s := newStore(t, backend)

	first := make(chan struct{})
	go func() {
		defer close(first)
		s.Send(context.Background(), "first")
	}()
	waitFor(t, pipes.calls)

	s.Send(context.Background(), "second")
	waitFor(t, first)
	s.Wait()

	st := s.State()
	assert.Empty(t, st.Error)
	assert.Equal(t, PhaseSettled, st.Phase)
	require.NotNil(t, st.Current)
	contents := make([]string, 0, len(st.Current.Messages))
	for _, m := range st.Current.Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first", "second", "second reply"}, contents)
}

func TestSend_ConcurrentSendsLeaveOneRunning(t *testing.T) {
	const n = 16
	backend := &api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pr, _ := io.Pipe()
			return stream.FromBody(ctx, pr, silentLog()), nil
		},
	}
	s := newStore(t, backend)

	var returned atomic.Int32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer returned.Add(1)
			s.Send(context.Background(), fmt.Sprintf("msg %d", i))
		}()
	}

	require.Eventually(t, func() bool { return returned.Load() == n-1 }, 5*time.Second, 5*time.Millisecond,
		"every superseded send is cancelled")
	assert.True(t, s.Cancel())

	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()
	waitFor(t, all)

	st := s.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Error)
	assert.False(t, st.IsStreaming)
	require.NotNil(t, st.Current)
	assert.Len(t, st.Current.Messages, n, "every user message is kept")
}

func TestSend_ProvisionalIDsAreUnique(t *testing.T) {
	s := New(&api.MockBackend{StreamChatFunc: sseReply("data: [DONE]\n")}, WithLogger(silentLog()))
	defer s.Close()

	for range 3 {
		s.Send(context.Background(), "same tick")
	}
	s.Wait()

	seen := map[domain.ID]bool{}
	for _, m := range s.State().Current.Messages {
		assert.True(t, m.Provisional())
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 6)
}

func TestStartNewConversation(t *testing.T) {
	s := newStore(t, &api.MockBackend{StreamChatFunc: sseReply("data: hi\ndata: [DONE]\n")})
	s.Send(context.Background(), "hello")
	s.Wait()
	require.NotNil(t, s.State().Current)

	s.StartNewConversation()

	st := s.State()
	assert.Nil(t, st.Current)
	assert.Empty(t, st.StreamingContent)
	assert.Equal(t, PhaseIdle, st.Phase)
}

func TestStartNewConversation_AbandonsRunningReply(t *testing.T) {
	pipes := newPipeReply()
	s := newStore(t, &api.MockBackend{StreamChatFunc: pipes.stream})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Send(context.Background(), "hello")
	}()
	waitFor(t, pipes.calls)

	s.StartNewConversation()
	waitFor(t, done)

	st := s.State()
	assert.Nil(t, st.Current)
	assert.False(t, st.IsStreaming)
	assert.Empty(t, st.Error)
}

func TestSelectConversation(t *testing.T) {
	var s *Store
	loadingSeen := false
	backend := &api.MockBackend{
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			loadingSeen = s.State().IsLoadingMessages
			return conv(string(id), "Loaded", domain.Message{ID: "1", Role: domain.RoleUser, Content: "old"}), nil
		},
	}
	s = newStore(t, backend)

	s.SelectConversation(context.Background(), "3")

	assert.True(t, loadingSeen)
	st := s.State()
	assert.False(t, st.IsLoadingMessages)
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("3"), st.Current.ID)
	assert.Equal(t, "Loaded", st.Current.Title)
	assert.Len(t, st.Current.Messages, 1)
}

func TestSelectConversation_FailureKeepsCurrent(t *testing.T) {
	fail := false
	backend := &api.MockBackend{
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			if fail {
				return domain.Conversation{}, &stream.TransportError{StatusCode: 404, Message: "Conversation not found"}
			}
			return conv(string(id), "First"), nil
		},
	}
	s := newStore(t, backend)
	s.SelectConversation(context.Background(), "1")

	fail = true
	s.SelectConversation(context.Background(), "2")

	st := s.State()
	assert.False(t, st.IsLoadingMessages)
	assert.Equal(t, "Failed to load conversation: Conversation not found", st.Error)
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("1"), st.Current.ID)
}

func TestDeleteConversation(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		deleteID    string
		wantCurrent bool
	}{
		{name: "current is cleared", current: "1", deleteID: "1", wantCurrent: false},
		{name: "other keeps current", current: "1", deleteID: "2", wantCurrent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s *Store
			var listDuringDelete int
			backend := &api.MockBackend{
				ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
					return []domain.Conversation{conv("1", "One"), conv("2", "Two")}, nil
				},
				GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
					return conv(string(id), "Current"), nil
				},
				DeleteConversationFunc: func(ctx context.Context, id domain.ID) error {
					listDuringDelete = len(s.State().Conversations)
					return nil
				},
			}
			s = newStore(t, backend)
			s.FetchConversations(context.Background())
			s.SelectConversation(context.Background(), domain.ID(tt.current))

			s.DeleteConversation(context.Background(), domain.ID(tt.deleteID))

			assert.Equal(t, 2, listDuringDelete, "deletion is not optimistic")
			st := s.State()
			require.Len(t, st.Conversations, 1)
			assert.NotEqual(t, domain.ID(tt.deleteID), st.Conversations[0].ID)
			if tt.wantCurrent {
				require.NotNil(t, st.Current)
				assert.Equal(t, domain.ID(tt.current), st.Current.ID)
			} else {
				assert.Nil(t, st.Current)
			}
			assert.Empty(t, st.Error)
		})
	}
}

func TestDeleteConversation_FailureChangesNothing(t *testing.T) {
	backend := &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return []domain.Conversation{conv("1", "One")}, nil
		},
		DeleteConversationFunc: func(ctx context.Context, id domain.ID) error {
			return &stream.TransportError{StatusCode: 500, Message: "database locked"}
		},
	}
	s := newStore(t, backend)
	s.FetchConversations(context.Background())

	s.DeleteConversation(context.Background(), "1")

	st := s.State()
	assert.Len(t, st.Conversations, 1)
	assert.Equal(t, "Failed to delete conversation: database locked", st.Error)
}

func TestDeleteConversation_UnsavedIsRejected(t *testing.T) {
	called := false
	s := newStore(t, &api.MockBackend{
		DeleteConversationFunc: func(ctx context.Context, id domain.ID) error {
			called = true
			return nil
		},
	})

	s.DeleteConversation(context.Background(), "")

	assert.False(t, called)
	assert.Contains(t, s.State().Error, "not been saved")
}

func TestFetchConversations_FailureKeepsStaleList(t *testing.T) {
	var s *Store
	fail := false
	loadingSeen := false
	backend := &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			loadingSeen = s.State().IsLoadingConversations
			if fail {
				return nil, &stream.TransportError{Message: "request failed", Err: errors.New("dial tcp: connection refused")}
			}
			return []domain.Conversation{conv("2", "Newer"), conv("1", "Older")}, nil
		},
	}
	s = newStore(t, backend)

	s.FetchConversations(context.Background())
	assert.True(t, loadingSeen)
	require.Len(t, s.State().Conversations, 2)

	fail = true
	s.FetchConversations(context.Background())

	st := s.State()
	assert.False(t, st.IsLoadingConversations)
	require.Len(t, st.Conversations, 2, "stale list is preserved")
	assert.Equal(t, domain.ID("2"), st.Conversations[0].ID)
	assert.Contains(t, st.Error, "could not reach the server")
}

func TestFetchConversations_OlderResponseDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	backend := &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
				return []domain.Conversation{conv("1", "stale")}, nil
			}
			return []domain.Conversation{conv("2", "fresh"), conv("1", "stale")}, nil
		},
	}
	s := newStore(t, backend)

	first := make(chan struct{})
	go func() {
		defer close(first)
		s.FetchConversations(context.Background())
	}()
	waitFor(t, entered)

	s.FetchConversations(context.Background())
	st := s.State()
	require.Len(t, st.Conversations, 2)
	assert.Equal(t, domain.ID("2"), st.Conversations[0].ID)
	assert.True(t, st.IsLoadingConversations, "first fetch still running")

	close(release)
	waitFor(t, first)

	st = s.State()
	require.Len(t, st.Conversations, 2)
	assert.Equal(t, domain.ID("2"), st.Conversations[0].ID)
	assert.False(t, st.IsLoadingConversations)
	assert.Empty(t, st.Error)
}

func TestSelectConversation_OlderResponseDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &api.MockBackend{
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			if id == "1" {
				close(entered)
				<-release
			}
			return conv(string(id), "Conversation "+string(id)), nil
		},
	}
	s := newStore(t, backend)

	first := make(chan struct{})
	go func() {
		defer close(first)
		s.SelectConversation(context.Background(), "1")
	}()
	waitFor(t, entered)

	s.SelectConversation(context.Background(), "2")
	st := s.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("2"), st.Current.ID)
	assert.False(t, st.IsLoadingMessages)

	close(release)
	waitFor(t, first)

	st = s.State()
	require.NotNil(t, st.Current)
	assert.Equal(t, domain.ID("2"), st.Current.ID)
	assert.False(t, st.IsLoadingMessages)
}

func TestErrors_LastWinsAndClear(t *testing.T) {
	backend := &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return nil, &stream.TransportError{StatusCode: 502, Message: "bad gateway"}
		},
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			return domain.Conversation{}, &stream.TransportError{StatusCode: 401, Message: "Not authenticated"}
		},
	}
	s := newStore(t, backend)

	s.FetchConversations(context.Background())
	s.SelectConversation(context.Background(), "9")
	assert.Equal(t, "Failed to load conversation: not signed in or session expired", s.State().Error)

	s.ClearError()
	assert.Empty(t, s.State().Error)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := newStore(t, &api.MockBackend{})
	var n atomic.Int32
	unsub := s.Subscribe(func(State) { n.Add(1) })

	s.ClearError()
	unsub()
	unsub()
	s.ClearError()

	assert.Equal(t, int32(1), n.Load())
}

type fakeCache struct {
	mu      sync.Mutex
	saved   []domain.Conversation
	single  []domain.ID
	deleted []domain.ID
}

func (c *fakeCache) SaveConversations(_ context.Context, convs []domain.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = convs
	return nil
}

func (c *fakeCache) SaveConversation(_ context.Context, conv domain.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.single = append(c.single, conv.ID)
	return nil
}

func (c *fakeCache) DeleteConversation(_ context.Context, id domain.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

func TestCache_MirrorsDirectory(t *testing.T) {
	cache := &fakeCache{}
	backend := &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return []domain.Conversation{conv("1", "One")}, nil
		},
		GetConversationFunc: func(ctx context.Context, id domain.ID) (domain.Conversation, error) {
			return conv(string(id), "One"), nil
		},
	}
	s := newStore(t, backend, WithCache(cache))

	s.FetchConversations(context.Background())
	s.SelectConversation(context.Background(), "1")
	s.DeleteConversation(context.Background(), "1")

	assert.Len(t, cache.saved, 1)
	assert.Equal(t, []domain.ID{"1"}, cache.single)
	assert.Equal(t, []domain.ID{"1"}, cache.deleted)
}

func TestHooks_StreamSettled(t *testing.T) {
	mgr := hooks.NewManager(silentLog())
	got := make(chan hooks.Payload, 1)
	mgr.On(hooks.EventStreamSettled, "test", func(ctx context.Context, p hooks.Payload) error {
		got <- p
		return nil
	})
	s := newStore(t, &api.MockBackend{StreamChatFunc: sseReply("data: done deal\ndata: [DONE]\n")}, WithHooks(mgr))

	s.Send(context.Background(), "hello")

	select {
	case p := <-got:
		assert.Equal(t, "done deal", p.Data["content"])
		assert.Equal(t, true, p.Data["terminated"])
	case <-time.After(5 * time.Second):
		t.Fatal("hook not called")
	}
}

func TestClose_MakesOperationsNoops(t *testing.T) {
	called := false
	s := New(&api.MockBackend{
		StreamChatFunc: func(ctx context.Context, in api.ChatRequest) (*stream.Stream, error) {
			called = true
			return nil, errors.New("unreachable")
		},
	}, WithLogger(silentLog()))
	s.Close()
	s.Close()

	s.Send(context.Background(), "hello")
	s.StartNewConversation()

	assert.False(t, called)
	assert.Nil(t, s.State().Current)
	assert.Zero(t, s.State().Seq)
}

func TestDirectory_SharesState(t *testing.T) {
	s := newStore(t, &api.MockBackend{
		ListConversationsFunc: func(ctx context.Context) ([]domain.Conversation, error) {
			return []domain.Conversation{conv("5", "Five")}, nil
		},
	})

	s.Directory().FetchConversations(context.Background())

	require.Len(t, s.Directory().Conversations(), 1)
	assert.Equal(t, s.State().Conversations, s.Directory().Conversations())
}
