package engine

import (
	"context"
	"sync"

	"github.com/petrijr/siirto/pkg/api"
)

// notifier is the engine-owned observer list: per-kind listeners invoked
// synchronously in registration order. It is not a process-wide bus;
// each engine instance has its own.
type notifier struct {
	mu   sync.RWMutex
	seq  int
	subs map[api.EventKind][]*subscription
}

type subscription struct {
	id int
	fn api.Listener
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[api.EventKind][]*subscription)}
}

// subscribe registers l for kind and returns an idempotent cancel.
func (n *notifier) subscribe(kind api.EventKind, l api.Listener) func() {
	n.mu.Lock()
	n.seq++
	sub := &subscription{id: n.seq, fn: l}
	n.subs[kind] = append(n.subs[kind], sub)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			subs := n.subs[kind]
			for i, s := range subs {
				if s.id == sub.id {
					n.subs[kind] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// fire dispatches ev to the kind's listeners in registration order.
// For before events the first listener error aborts dispatch and is
// returned (the veto); for after events listener errors are ignored.
func (n *notifier) fire(ctx context.Context, ev api.Event) error {
	n.mu.RLock()
	subs := make([]*subscription, len(n.subs[ev.Kind]))
	copy(subs, n.subs[ev.Kind])
	n.mu.RUnlock()

	for _, s := range subs {
		err := s.fn(ctx, ev)
		if err != nil && ev.Kind == api.EventBeforeTransition {
			return err
		}
	}
	return nil
}
