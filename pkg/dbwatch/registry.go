package dbwatch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// StartFunc runs one upstream change-feed subscription, calling emit for
// each decoded event until ctx is cancelled. A nil or context.Canceled
// return is a clean shutdown; anything else is a store-side failure that
// gets propagated to every subscriber.
type StartFunc[T any] func(ctx context.Context, emit func(T)) error

// Registry multiplexes change-feed subscriptions: one upstream stream per
// distinct filter signature, broadcast to every subscriber registered under
// that signature. The upstream is torn down when its last subscriber leaves.
type Registry[T any] struct {
	mu           sync.Mutex
	broadcasters map[string]*broadcaster[T]
}

type broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber[T]
	nextID      int

	cancel context.CancelFunc
	dead   bool
}

type subscriber[T any] struct {
	// events is never closed; subscribers detect termination via done/errs
	events chan T
	errs   chan error
	done   chan struct{}
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		broadcasters: map[string]*broadcaster[T]{},
	}
}

// Subscribe attaches to the upstream identified by signature, starting it if
// this is the first subscriber. Cancel is idempotent; the last cancel for a
// signature stops the upstream stream. A store-side upstream failure is
// delivered once on the error channel.
func (r *Registry[T]) Subscribe(signature string, start StartFunc[T]) (<-chan T, <-chan error, func()) {
	r.mu.Lock()

	b, exists := r.broadcasters[signature]
	if !exists {
		upstreamCtx, cancel := context.WithCancel(context.Background())

		b = &broadcaster[T]{
			subscribers: map[int]*subscriber[T]{},
			cancel:      cancel,
		}
		r.broadcasters[signature] = b

		go r.runUpstream(upstreamCtx, signature, b, start)
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++

	sub := &subscriber[T]{
		events: make(chan T, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	r.mu.Unlock()

	cancelSubscription := func() {
		r.mu.Lock()
		b.mu.Lock()

		if _, stillThere := b.subscribers[id]; stillThere {
			delete(b.subscribers, id)
			close(sub.done)
		}

		last := len(b.subscribers) == 0 && !b.dead
		if last {
			b.dead = true
			delete(r.broadcasters, signature)
		}

		b.mu.Unlock()
		r.mu.Unlock()

		if last {
			b.cancel()
		}
	}

	return sub.events, sub.errs, cancelSubscription
}

func (r *Registry[T]) runUpstream(ctx context.Context, signature string, b *broadcaster[T], start StartFunc[T]) {
	err := start(ctx, func(event T) {
		b.mu.Lock()
		subscribers := make([]*subscriber[T], 0, len(b.subscribers))
		for _, sub := range b.subscribers {
			subscribers = append(subscribers, sub)
		}
		b.mu.Unlock()

		for _, sub := range subscribers {
			select {
			case sub.events <- event:
			case <-sub.done:
			}
		}
	})

	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	log.Error().Err(err).Str("signature", signature).Msg("Change stream failed")

	// Store-side failure: surface to every remaining subscriber and retire
	// the shared stream
	r.mu.Lock()
	b.mu.Lock()

	for id, sub := range b.subscribers {
		sub.errs <- err
		close(sub.done)
		delete(b.subscribers, id)
	}
	if !b.dead {
		b.dead = true
		delete(r.broadcasters, signature)
	}

	b.mu.Unlock()
	r.mu.Unlock()

	b.cancel()
}

// Subscriptions reports the number of live subscribers across all upstreams.
func (r *Registry[T]) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, b := range r.broadcasters {
		b.mu.Lock()
		total += len(b.subscribers)
		b.mu.Unlock()
	}
	return total
}
