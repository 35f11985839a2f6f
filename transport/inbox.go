package transport

import (
	"sync"

	"github.com/reglet-dev/extrunner/domain/entities"
)

type inboxItem struct {
	err error
	env entities.Envelope
}

type handlerEntry[T any] struct {
	fn func(T)
	id int
}

// Inbox is an unbounded FIFO of inbound envelopes and channel errors with a
// single dispatch goroutine. Handlers run to completion before the next item
// is dispatched. Envelopes wait until at least one message handler is
// registered; errors with no registered handler are discarded.
type Inbox struct {
	cond        *sync.Cond
	done        chan struct{}
	items       []inboxItem
	msgHandlers []handlerEntry[entities.Envelope]
	errHandlers []handlerEntry[error]
	mu          sync.Mutex
	nextID      int
	closed      bool
}

// NewInbox creates an Inbox and starts its dispatch goroutine.
func NewInbox() *Inbox {
	b := &Inbox{done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Push enqueues an envelope. It never blocks.
func (b *Inbox) Push(env entities.Envelope) {
	b.push(inboxItem{env: env})
}

// PushError enqueues a channel error behind every envelope already queued.
func (b *Inbox) PushError(err error) {
	b.push(inboxItem{err: err})
}

func (b *Inbox) push(it inboxItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, it)
	b.cond.Signal()
}

// OnMessage registers an envelope handler.
func (b *Inbox) OnMessage(fn func(entities.Envelope)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.msgHandlers = append(b.msgHandlers, handlerEntry[entities.Envelope]{id: id, fn: fn})
	b.cond.Signal()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.msgHandlers = removeHandler(b.msgHandlers, id)
	}
}

// OnError registers a channel error handler.
func (b *Inbox) OnError(fn func(error)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.errHandlers = append(b.errHandlers, handlerEntry[error]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.errHandlers = removeHandler(b.errHandlers, id)
	}
}

// Close stops accepting items. Items already queued are still dispatched
// (envelopes without a handler are dropped), then the goroutine exits.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}

// Done is closed once the dispatch goroutine has exited.
func (b *Inbox) Done() <-chan struct{} {
	return b.done
}

func (b *Inbox) ready() bool {
	if len(b.items) == 0 {
		return false
	}
	head := b.items[0]
	return head.err != nil || len(b.msgHandlers) > 0 || b.closed
}

func (b *Inbox) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for !b.ready() && !(b.closed && len(b.items) == 0) {
			b.cond.Wait()
		}
		if len(b.items) == 0 {
			b.mu.Unlock()
			return
		}
		it := b.items[0]
		b.items[0] = inboxItem{}
		b.items = b.items[1:]
		msgHandlers := append([]handlerEntry[entities.Envelope](nil), b.msgHandlers...)
		errHandlers := append([]handlerEntry[error](nil), b.errHandlers...)
		b.mu.Unlock()

		if it.err != nil {
			for _, h := range errHandlers {
				h.fn(it.err)
			}
			continue
		}
		for _, h := range msgHandlers {
			h.fn(it.env)
		}
	}
}

func removeHandler[T any](hs []handlerEntry[T], id int) []handlerEntry[T] {
	for i, h := range hs {
		if h.id == id {
			return append(hs[:i:i], hs[i+1:]...)
		}
	}
	return hs
}
