package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

const defaultMemoryBuffer = 64

type memorySub struct {
	filter domain.Subscription
	ch     chan domain.ChangeEvent
	quit   chan struct{}
	once   sync.Once
}

// MemoryBus est un bus de changements en mémoire (mode local et tests).
// Chaque souscription a sa propre goroutine de livraison: l'ordre de publication est conservé.
type MemoryBus struct {
	// subs: id de souscription (uuid) -> souscription, suppression en O(1).
	subs   map[string]*memorySub
	mu     sync.RWMutex
	buffer int
}

var _ ports.ChangeSource = (*MemoryBus)(nil)

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryBus{
		subs:   make(map[string]*memorySub),
		buffer: buffer,
	}
}

// Thread-safe
func (b *MemoryBus) Subscribe(ctx context.Context, sub domain.Subscription, deliver func(domain.ChangeEvent)) (ports.Unsubscribe, error) {
	id := "sub_" + uuid.New().String()
	s := &memorySub{
		filter: sub,
		ch:     make(chan domain.ChangeEvent, b.buffer),
		quit:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-s.ch:
				deliver(ev)
			case <-s.quit:
				return
			}
		}
	}()

	unsubscribe := func() error {
		s.once.Do(func() {
			// quit d'abord: un Publish bloqué sur cette souscription rend son verrou
			close(s.quit)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
		return nil
	}
	stop := context.AfterFunc(ctx, func() { _ = unsubscribe() })

	return func() error {
		stop()
		return unsubscribe()
	}, nil
}

// Publish livre ev à toutes les souscriptions concernées. Thread-safe.
func (b *MemoryBus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !s.filter.Matches(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.quit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Thread-safe
func (b *MemoryBus) ActiveSubscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
