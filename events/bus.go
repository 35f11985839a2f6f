// Package events provides the typed event bus used by connections,
// extensions and providers. Each component defines its own sealed event
// type and consumers switch on the concrete variant.
package events

import "sync"

type subscriber[E any] struct {
	fn func(E)
	id uint64
}

// Bus delivers events of type E to subscribers in subscription order.
// Emit calls handlers synchronously on the emitting goroutine.
type Bus[E any] struct {
	subs   []subscriber[E]
	nextID uint64
	mu     sync.RWMutex
}

// Subscribe registers fn and returns a function removing it.
func (b *Bus[E]) Subscribe(fn func(E)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[E]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every current subscriber.
func (b *Bus[E]) Emit(ev E) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the number of subscribers.
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Clear removes every subscriber.
func (b *Bus[E]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}
