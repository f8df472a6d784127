package docstore

import (
	"context"
	"sync"
)

// Hub fans change notifications out to subscriptions. Each subscription owns
// a goroutine that re-reads state through refresh; notifications that arrive
// while a refresh is running are coalesced into one more refresh.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*watcher
}

type watcher struct {
	collection string
	id         string // empty for query subscriptions
	kick       chan struct{}
	cancel     context.CancelFunc
}

func NewHub() *Hub {
	return &Hub{subs: map[int]*watcher{}}
}

// Watch registers a subscription on collection (and id, if not empty) and
// runs refresh once immediately. The subscription ends when the returned
// Unsubscribe is called or ctx is done.
func (h *Hub) Watch(ctx context.Context, collection, id string, refresh func(ctx context.Context)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		collection: collection,
		id:         id,
		kick:       make(chan struct{}, 1),
		cancel:     cancel,
	}

	h.mu.Lock()
	h.nextID++
	key := h.nextID
	h.subs[key] = w
	h.mu.Unlock()

	w.kick <- struct{}{}
	go func() {
		defer h.remove(key)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.kick:
				refresh(ctx)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

// Notify wakes every subscription interested in (collection, id).
func (h *Hub) Notify(collection, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.subs {
		if w.collection != collection || (w.id != "" && w.id != id) {
			continue
		}
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// NotifyAll wakes every subscription, e.g. after a change feed reconnects
// and may have missed events.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.subs {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Close ends all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.subs {
		w.cancel()
	}
}

func (h *Hub) remove(key int) {
	h.mu.Lock()
	delete(h.subs, key)
	h.mu.Unlock()
}
