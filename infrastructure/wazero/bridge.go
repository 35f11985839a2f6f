package wazero

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/transport"
	"github.com/reglet-dev/extrunner/wireformat"
)

// Bridge is the host end of a channel to one wasm module. It implements
// ports.Transport. Outbound envelopes are queued until the guest polls.
type Bridge struct {
	factory *Factory
	inbox   *transport.Inbox
	mod     api.Module
	cancel  context.CancelFunc
	done    chan struct{}
	name    string
	outbox  [][]byte
	mu      sync.Mutex
	once    sync.Once
	closed  bool
}

var _ ports.Transport = (*Bridge)(nil)

func newBridge(f *Factory, name string) *Bridge {
	return &Bridge{
		factory: f,
		inbox:   transport.NewInbox(),
		done:    make(chan struct{}),
		name:    name,
	}
}

func (b *Bridge) attach(mod api.Module, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mod = mod
	b.cancel = cancel
}

// Name returns the module instance name.
func (b *Bridge) Name() string { return b.name }

// Origin is stamped on every envelope the module sends.
func (b *Bridge) Origin() string { return "wasm://" + b.name }

// Send encodes env and queues it for the guest.
func (b *Bridge) Send(ctx context.Context, env entities.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := wireformat.Marshal(env)
	if err != nil {
		return &errors.ChannelError{ReplyTo: env.ReplyTo, Err: err}
	}
	if uint32(len(data)) > b.factory.cfg.MaxMessageSize { //nolint:gosec // G115: compared against a 32-bit limit
		return &errors.ChannelError{
			ReplyTo: env.ReplyTo,
			Err:     fmt.Errorf("message size %d exceeds maximum %d bytes", len(data), b.factory.cfg.MaxMessageSize),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &errors.ChannelError{ReplyTo: env.ReplyTo, Err: transport.ErrClosed}
	}
	b.outbox = append(b.outbox, data)
	return nil
}

// OnMessage implements ports.Transport.
func (b *Bridge) OnMessage(handler func(entities.Envelope)) func() {
	return b.inbox.OnMessage(handler)
}

// OnError implements ports.Transport.
func (b *Bridge) OnError(handler func(error)) func() {
	return b.inbox.OnError(handler)
}

// WindowType implements ports.Transport.
func (b *Bridge) WindowType() entities.WindowType {
	return entities.WindowBackground
}

// Close stops the module. Error handlers observe transport.ErrClosed.
func (b *Bridge) Close() error {
	b.shutdown(nil)
	return nil
}

// Done is closed once the module stopped and its memory was released.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) next() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outbox) == 0 || b.closed {
		return nil
	}
	data := b.outbox[0]
	b.outbox[0] = nil
	b.outbox = b.outbox[1:]
	return data
}

func (b *Bridge) deliver(data []byte) {
	env, err := wireformat.UnmarshalLimited(data, int(b.factory.cfg.MaxMessageSize))
	if err != nil {
		b.reject(err)
		return
	}
	env.Origin = b.Origin()
	b.inbox.Push(env)
}

func (b *Bridge) reject(err error) {
	b.factory.cfg.Logger.Warn("wazero: dropping malformed envelope", "module", b.name, "error", err)
	b.inbox.PushError(&errors.ChannelError{Err: err})
}

// run executes the guest's _start. The module stops when it returns, which
// closes the channel.
func (b *Bridge) run(ctx context.Context, start api.Function) {
	_, err := start.Call(ctx)

	var exitErr *sys.ExitError
	if stdErrors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		err = nil
	}
	if ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		b.factory.cfg.Logger.Warn("wazero: module stopped", "module", b.name, "error", err)
	}
	b.shutdown(err)

	b.mu.Lock()
	mod := b.mod
	b.mu.Unlock()
	_ = mod.Close(context.Background())
	close(b.done)
}

// abort releases a bridge whose module never started.
func (b *Bridge) abort() {
	b.shutdown(nil)
	close(b.done)
}

func (b *Bridge) shutdown(cause error) {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.outbox = nil
		cancel := b.cancel
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		b.factory.unregister(b.name)
		if cause != nil {
			b.inbox.PushError(&errors.ChannelError{Err: cause})
		}
		b.inbox.PushError(transport.ErrClosed)
		b.inbox.Close()
	})
}
