package transport

import (
	"context"
	stdErrors "errors"
	"sync"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/wireformat"
)

// ErrClosed is returned by Send on a closed channel and reported once to the
// error handlers of both ends when the channel closes.
var ErrClosed = stdErrors.New("transport: channel closed")

// pipeConfig holds configuration for Pipe.
type pipeConfig struct {
	hostOrigin string
	peerOrigin string
	window     entities.WindowType
	clone      bool
}

func defaultPipeConfig() pipeConfig {
	return pipeConfig{
		window: entities.WindowBackground,
		clone:  true,
	}
}

// PipeOption configures a Pipe.
type PipeOption func(*pipeConfig)

// WithOrigins sets the origin each end stamps on the envelopes it sends.
// An empty origin means "same origin".
func WithOrigins(host, peer string) PipeOption {
	return func(c *pipeConfig) {
		c.hostOrigin = host
		c.peerOrigin = peer
	}
}

// WithWindowType sets the context kind both ends report.
func WithWindowType(w entities.WindowType) PipeOption {
	return func(c *pipeConfig) {
		c.window = w
	}
}

// WithClone enables or disables structured cloning of envelopes.
// Disable only in tests that need to pass non-encodable values.
func WithClone(enabled bool) PipeOption {
	return func(c *pipeConfig) {
		c.clone = enabled
	}
}

type pipeState struct {
	mu     sync.Mutex
	closed bool
}

// Endpoint is one end of a Pipe. It implements ports.Transport.
type Endpoint struct {
	inbox  *Inbox
	peer   *Endpoint
	shared *pipeState
	origin string
	window entities.WindowType
	clone  bool
}

var _ ports.Transport = (*Endpoint)(nil)

// Pipe returns two connected endpoints: host and peer.
func Pipe(opts ...PipeOption) (host, peer *Endpoint) {
	cfg := defaultPipeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	shared := &pipeState{}
	host = &Endpoint{inbox: NewInbox(), shared: shared, origin: cfg.hostOrigin, window: cfg.window, clone: cfg.clone}
	peer = &Endpoint{inbox: NewInbox(), shared: shared, origin: cfg.peerOrigin, window: cfg.window, clone: cfg.clone}
	host.peer = peer
	peer.peer = host
	return host, peer
}

// Send clones env, stamps this end's origin and queues it on the other end.
// When env answers a reply channel and cannot be cloned, the receiving end
// is told through its error handlers as well.
func (e *Endpoint) Send(ctx context.Context, env entities.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.shared.mu.Lock()
	defer e.shared.mu.Unlock()
	if e.shared.closed {
		return &errors.ChannelError{ReplyTo: env.ReplyTo, Err: ErrClosed}
	}

	out := env
	if e.clone {
		cloned, err := wireformat.Clone(env)
		if err != nil {
			chErr := &errors.ChannelError{ReplyTo: env.ReplyTo, Err: err}
			if isReply(env.Kind) && env.ReplyTo != "" {
				e.peer.inbox.PushError(chErr)
			}
			return chErr
		}
		out = cloned
	}
	out.Origin = e.origin
	e.peer.inbox.Push(out)
	return nil
}

// OnMessage implements ports.Transport.
func (e *Endpoint) OnMessage(handler func(entities.Envelope)) func() {
	return e.inbox.OnMessage(handler)
}

// OnError implements ports.Transport.
func (e *Endpoint) OnError(handler func(error)) func() {
	return e.inbox.OnError(handler)
}

// WindowType implements ports.Transport.
func (e *Endpoint) WindowType() entities.WindowType {
	return e.window
}

// Close closes both ends of the pipe.
func (e *Endpoint) Close() error {
	e.shared.mu.Lock()
	defer e.shared.mu.Unlock()
	if e.shared.closed {
		return nil
	}
	e.shared.closed = true
	for _, end := range []*Endpoint{e, e.peer} {
		end.inbox.PushError(ErrClosed)
		end.inbox.Close()
	}
	return nil
}

// Done is closed once this end's dispatch goroutine has exited.
func (e *Endpoint) Done() <-chan struct{} {
	return e.inbox.Done()
}

func isReply(k entities.Kind) bool {
	return k == entities.KindOperationResult || k == entities.KindOperationError
}
