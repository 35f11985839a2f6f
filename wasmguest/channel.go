package wasmguest

import (
	"context"
	"sync"
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/transport"
	"github.com/reglet-dev/extrunner/wireformat"
)

// HostOrigin is stamped on every envelope pulled from the host.
const HostOrigin = "extrunner://host"

// DefaultIdle is how long Serve sleeps when the host has nothing queued.
const DefaultIdle = 5 * time.Millisecond

// Channel is the guest end of a polled transport. post hands an encoded
// envelope to the host; poll returns the next queued one or nil.
type Channel struct {
	post    func([]byte)
	poll    func() []byte
	inbox   *transport.Inbox
	stop    chan struct{}
	idle    time.Duration
	maxSize int
	mu      sync.Mutex
	once    sync.Once
	closed  bool
}

var _ ports.Transport = (*Channel)(nil)

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithIdle sets the poll interval used while the host queue is empty.
func WithIdle(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.idle = d
		}
	}
}

// WithMaxMessageSize rejects inbound envelopes larger than size bytes.
func WithMaxMessageSize(size int) ChannelOption {
	return func(c *Channel) {
		c.maxSize = size
	}
}

// NewChannel creates a Channel over the given host calls.
func NewChannel(post func([]byte), poll func() []byte, opts ...ChannelOption) *Channel {
	c := &Channel{
		post:  post,
		poll:  poll,
		inbox: transport.NewInbox(),
		stop:  make(chan struct{}),
		idle:  DefaultIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send encodes env and posts it to the host.
func (c *Channel) Send(ctx context.Context, env entities.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &errors.ChannelError{ReplyTo: env.ReplyTo, Err: transport.ErrClosed}
	}
	data, err := wireformat.Marshal(env)
	if err != nil {
		return &errors.ChannelError{ReplyTo: env.ReplyTo, Err: err}
	}
	c.post(data)
	return nil
}

// OnMessage implements ports.Transport.
func (c *Channel) OnMessage(handler func(entities.Envelope)) func() {
	return c.inbox.OnMessage(handler)
}

// OnError implements ports.Transport.
func (c *Channel) OnError(handler func(error)) func() {
	return c.inbox.OnError(handler)
}

// WindowType implements ports.Transport.
func (c *Channel) WindowType() entities.WindowType { return entities.WindowBackground }

// Close stops Serve. Error handlers observe transport.ErrClosed.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)
		c.inbox.PushError(transport.ErrClosed)
		c.inbox.Close()
	})
	return nil
}

// Done is closed once every queued envelope was dispatched after Close.
func (c *Channel) Done() <-chan struct{} { return c.inbox.Done() }

// Serve polls the host until ctx is canceled or the channel is closed.
func (c *Channel) Serve(ctx context.Context) error {
	timer := time.NewTimer(c.idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		if data := c.poll(); data != nil {
			c.deliver(data)
			continue
		}

		timer.Reset(c.idle)
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case <-timer.C:
		}
	}
}

func (c *Channel) deliver(data []byte) {
	env, err := wireformat.UnmarshalLimited(data, c.maxSize)
	if err != nil {
		c.inbox.PushError(&errors.ChannelError{Err: err})
		return
	}
	env.Origin = HostOrigin
	c.inbox.Push(env)
}
