// Package session owns the conversational state of one client: the current
// conversation, the reply being streamed into it and the conversation list.
// Observers subscribe to snapshots instead of reading shared fields.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/logging"
)

const refreshTimeout = 30 * time.Second

// Cache mirrors server state for offline reads. Errors are logged only.
type Cache interface {
	SaveConversations(ctx context.Context, convs []domain.Conversation) error
	SaveConversation(ctx context.Context, conv domain.Conversation) error
	DeleteConversation(ctx context.Context, id domain.ID) error
}

// Listener receives a snapshot after every transition.
type Listener func(State)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithHooks emits lifecycle events on m.
func WithHooks(m *hooks.Manager) Option {
	return func(s *Store) { s.hooks = m }
}

// WithCache mirrors fetched conversations into c.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithIDGenerator replaces the provisional message id generator.
func WithIDGenerator(fn func() domain.ID) Option {
	return func(s *Store) { s.newID = fn }
}

// WithPlaceholderTitle sets the title of conversations not yet saved.
func WithPlaceholderTitle(title string) Option {
	return func(s *Store) {
		if title != "" {
			s.placeholderTitle = title
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewID returns a provisional message id that cannot collide with server ids.
func NewID() domain.ID {
	return domain.ID(domain.ProvisionalPrefix + uuid.NewString())
}

type subscriber struct {
	id int
	fn Listener
}

// inflight is the send currently allowed to write state.
type inflight struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Store is the session state machine. It is safe for concurrent use.
//
// Listeners are invoked in transition order on the goroutine that made the
// change. They must not call back into the Store synchronously.
type Store struct {
	backend          api.Backend
	log              *logging.Logger
	hooks            *hooks.Manager
	cache            Cache
	newID            func() domain.ID
	now              func() time.Time
	placeholderTitle string
	dir              *Directory

	mu       sync.Mutex
	state    State
	subs     []subscriber
	nextSub  int
	gen      uint64
	active   *inflight
	closed   bool
	listSeq  uint64
	listDone uint64
	loading  int
	selSeq   uint64

	deliverMu sync.Mutex

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a Store backed by backend.
func New(backend api.Backend, opts ...Option) *Store {
	s := &Store{
		backend:          backend,
		log:              logging.New(nil, "silent"),
		newID:            NewID,
		now:              time.Now,
		placeholderTitle: domain.DefaultTitle,
		state:            State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Sub("session")
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	s.dir = &Directory{s: s, log: s.log.Sub("directory")}
	return s
}

// Directory returns the conversation list view sharing this Store's state.
func (s *Store) Directory() *Directory {
	return s.dir
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
		})
	}
}

// apply runs fn under the lock. When fn returns true the change is published
// to every listener before apply returns.
func (s *Store) apply(fn func(st *State) bool) bool {
	s.mu.Lock()
	if s.closed || !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	s.state.Seq++
	snap := s.state
	subs := slices.Clone(s.subs)

	// Taking deliverMu before releasing mu keeps delivery in Seq order.
	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
	return true
}

// applyGen is apply restricted to the send identified by gen.
func (s *Store) applyGen(gen uint64, fn func(st *State)) bool {
	return s.apply(func(st *State) bool {
		if s.active == nil || s.active.gen != gen {
			return false
		}
		fn(st)
		return true
	})
}

// abandonLocked detaches the running send so none of its later results are
// applied. The caller cancels the returned send after releasing the lock.
func (s *Store) abandonLocked() *inflight {
	fl := s.active
	s.active = nil
	s.gen++
	return fl
}

func cancelInflight(fl *inflight) {
	if fl != nil {
		fl.cancel()
	}
}

// Cancel aborts the running send, if any. The send resets the streaming
// buffer and returns to idle without recording an error.
func (s *Store) Cancel() bool {
	s.mu.Lock()
	fl := s.active
	s.mu.Unlock()
	if fl == nil {
		return false
	}
	fl.cancel()
	return true
}

// StartNewConversation clears the current conversation. Any running reply is
// abandoned; the server still keeps it.
func (s *Store) StartNewConversation() {
	var fl *inflight
	s.apply(func(st *State) bool {
		fl = s.abandonLocked()
		st.Current = nil
		st.resetStream()
		st.Phase = PhaseIdle
		return true
	})
	cancelInflight(fl)
}

// ClearError removes the error text.
func (s *Store) ClearError() {
	s.apply(func(st *State) bool {
		st.Error = ""
		st.settle()
		return true
	})
}

// SelectConversation loads id as the current conversation.
func (s *Store) SelectConversation(ctx context.Context, id domain.ID) {
	s.dir.SelectConversation(ctx, id)
}

// DeleteConversation deletes id on the server and drops it locally.
func (s *Store) DeleteConversation(ctx context.Context, id domain.ID) {
	s.dir.DeleteConversation(ctx, id)
}

// FetchConversations replaces the conversation list.
func (s *Store) FetchConversations(ctx context.Context) {
	s.dir.FetchConversations(ctx)
}

// Wait blocks until background refreshes have finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

// Close aborts the running send and background work, drops all listeners
// and makes every later operation a no-op.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fl := s.abandonLocked()
	s.subs = nil
	s.mu.Unlock()

	cancelInflight(fl)
	s.bgCancel()
	s.bg.Wait()
	if fl != nil {
		<-fl.done
	}
}

// goBackground runs fn tracked by Wait and cancelled by Close.
func (s *Store) goBackground(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(s.bgCtx, refreshTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Store) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks == nil {
		return
	}
	s.hooks.EmitAsync(context.WithoutCancel(ctx), event, data)
}
