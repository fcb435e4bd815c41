package gateway

import (
	"context"
	"sync"

	"github.com/soyeahso/compass/internal/session"
)

// statePump moves session snapshots off the store's notify path. Snapshots
// are queued without bound so no transition is skipped, and delivered in
// order by a single goroutine.
type statePump struct {
	mu      sync.Mutex
	pending []session.State
	wake    chan struct{}
	done    chan struct{}
}

func newStatePump() *statePump {
	return &statePump{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (p *statePump) push(st session.State) {
	p.mu.Lock()
	p.pending = append(p.pending, st)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *statePump) run(ctx context.Context, deliver func(session.State)) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()

		for _, st := range batch {
			deliver(st)
		}
	}
}
