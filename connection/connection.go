package connection

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/events"
	"github.com/reglet-dev/extrunner/operations"
	"github.com/reglet-dev/extrunner/rpc"
	"github.com/reglet-dev/extrunner/state"
	"github.com/reglet-dev/extrunner/transport"
)

var validate = validator.New()

// Connection pairs the host with one isolated context.
type Connection struct {
	transport ports.Transport
	ctx       context.Context
	logger    *slog.Logger
	ops       *operations.Registry
	calls     *rpc.Correlator
	slot      *state.Slot
	populator *state.Populator
	handshake chan error
	done      chan struct{}
	cancel    context.CancelFunc
	cfg       config
	bus       events.Bus[Event]
	id        string
	unsubs    []func()
	meta      entities.Meta
	startErr  error
	lifecycle entities.LifecycleState
	startOnce sync.Once
	mu        sync.Mutex
}

// New creates a connection in the CREATED state. It does not touch the
// transport until Start.
func New(meta entities.Meta, tr ports.Transport, ops *operations.Registry, opts ...Option) (*Connection, error) {
	if err := validate.Struct(meta); err != nil {
		return nil, fmt.Errorf("invalid meta: %w", err)
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		transport: tr,
		ctx:       ctx,
		cancel:    cancel,
		ops:       ops,
		cfg:       cfg,
		id:        cfg.id,
		meta:      meta.Clone(),
		slot:      state.NewSlot(meta.InitialState, cfg.merge),
		populator: state.NewPopulator(state.WithMergeFunc(cfg.merge), state.WithPolicy(cfg.policy)),
		handshake: make(chan error, 1),
		done:      make(chan struct{}),
		lifecycle: entities.LifecycleCreated,
	}
	c.logger = cfg.logger.With("connection", c.id, "ref", c.Ref())
	c.calls = rpc.New(c.send,
		rpc.WithTimeout(cfg.operationTimeout),
		rpc.WithRef(c.Ref()),
		rpc.WithLogger(c.logger),
		rpc.WithObserver(c.observeOperation),
	)
	return c, nil
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// Ref returns "<name>/<path>", the human-readable reference used in logs
// and errors.
func (c *Connection) Ref() string {
	if c.meta.Path == "" {
		return c.meta.Name
	}
	return c.meta.Name + "/" + c.meta.Path
}

// Path returns the logical path the connection is grouped by.
func (c *Connection) Path() string { return c.meta.Path }

// Meta returns a copy of the meta sent to the peer.
func (c *Connection) Meta() entities.Meta { return c.meta.Clone() }

// WindowType reports the kind of context on the other end.
func (c *Connection) WindowType() entities.WindowType { return c.transport.WindowType() }

// Lifecycle returns the current lifecycle state.
func (c *Connection) Lifecycle() entities.LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// State returns a copy of the last state known to both sides.
func (c *Connection) State() entities.State { return c.slot.Get() }

// Subscribe registers an event handler and returns its unsubscribe func.
func (c *Connection) Subscribe(fn func(Event)) func() { return c.bus.Subscribe(fn) }

// Done is closed once the connection is destroyed or failed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Start runs the handshake: it sends meta and waits for ready. Calling it
// again returns the first result.
func (c *Connection) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.startErr = c.start(ctx)
	})
	return c.startErr
}

func (c *Connection) start(ctx context.Context) error {
	c.mu.Lock()
	if c.lifecycle != entities.LifecycleCreated {
		st := c.lifecycle
		c.mu.Unlock()
		return &errors.ConnectionClosedError{Ref: c.Ref(), Operation: "start (" + st.String() + ")"}
	}
	c.lifecycle = entities.LifecycleAwaitingHandshake
	c.mu.Unlock()

	c.unsubs = append(c.unsubs,
		c.transport.OnMessage(c.dispatch),
		c.transport.OnError(c.handleTransportError),
	)

	c.logger.Debug("starting handshake", "timeout", c.cfg.connectionTimeout)
	meta := c.meta.Clone()
	if err := c.transport.Send(ctx, entities.Envelope{Kind: entities.KindMeta, Meta: &meta}); err != nil {
		hsErr := &errors.HandshakeTimeoutError{Ref: c.Ref(), Duration: c.cfg.connectionTimeout, Cause: err}
		c.failHandshake(hsErr)
		return hsErr
	}

	timer := time.NewTimer(c.cfg.connectionTimeout)
	defer timer.Stop()

	var hsErr error
	select {
	case err := <-c.handshake:
		if err == nil {
			return nil
		}
		hsErr = err
	case <-timer.C:
		hsErr = &errors.HandshakeTimeoutError{Ref: c.Ref(), Duration: c.cfg.connectionTimeout}
	case <-ctx.Done():
		hsErr = &errors.HandshakeTimeoutError{Ref: c.Ref(), Duration: c.cfg.connectionTimeout, Cause: ctx.Err()}
	}

	if !c.failHandshake(hsErr) && c.Lifecycle() == entities.LifecycleReady {
		// ready won the race against the deadline
		return nil
	}
	return hsErr
}

// failHandshake moves an awaiting connection to FAILED and releases the
// transport. It reports false when the handshake already ended.
func (c *Connection) failHandshake(err error) bool {
	c.mu.Lock()
	if c.lifecycle != entities.LifecycleAwaitingHandshake {
		c.mu.Unlock()
		return false
	}
	c.lifecycle = entities.LifecycleFailed
	c.mu.Unlock()

	c.logger.Warn("handshake failed", "error", err)
	c.release()
	close(c.done)
	return true
}

func (c *Connection) markReady() {
	c.mu.Lock()
	if c.lifecycle != entities.LifecycleAwaitingHandshake {
		c.mu.Unlock()
		return
	}
	c.lifecycle = entities.LifecycleReady
	c.mu.Unlock()

	c.logger.Info("module ready", "window", c.transport.WindowType())
	c.bus.Emit(LoadEvent{Source: c})
	c.signalHandshake(nil)
}

func (c *Connection) signalHandshake(err error) {
	select {
	case c.handshake <- err:
	default:
	}
}

// release tears down everything the connection holds on the transport.
// The caller closes done.
func (c *Connection) release() {
	c.calls.RejectAll()
	c.cancel()
	for _, unsub := range c.unsubs {
		unsub()
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("closing transport", "error", err)
	}
}

// send stamps the auth token on every outbound envelope.
func (c *Connection) send(ctx context.Context, env entities.Envelope) error {
	env.AuthToken = c.meta.AuthToken
	return c.transport.Send(ctx, env)
}

func (c *Connection) checkReady(operation string) error {
	st := c.Lifecycle()
	switch {
	case st == entities.LifecycleReady:
		return nil
	case st.Terminal():
		return &errors.ConnectionClosedError{Ref: c.Ref(), Operation: operation}
	default:
		return &errors.NotReadyError{Ref: c.Ref(), State: st}
	}
}

// Execute calls an operation of the peer.
func (c *Connection) Execute(ctx context.Context, operation string, args ...any) (any, error) {
	if err := c.checkReady(operation); err != nil {
		return nil, err
	}
	return c.calls.Execute(ctx, operation, args...)
}

// PushState sends a state to the peer. With merge the transmitted state is
// the merge of the last-known state and s, otherwise s itself. The
// last-known state changes only once the send succeeded. Failures are
// returned and reported as an ErrorEvent.
func (c *Connection) PushState(ctx context.Context, s entities.State, merge bool) (entities.State, error) {
	if err := c.checkReady("push_state"); err != nil {
		return nil, err
	}
	sent, err := c.slot.Push(ctx, func(ctx context.Context, st entities.State) error {
		return c.send(ctx, entities.Envelope{
			Kind:    entities.KindStatePush,
			State:   st,
			Options: &entities.StateOptions{},
		})
	}, s, merge)
	if err != nil {
		c.logger.Warn("state push failed", "error", err)
		c.bus.Emit(ErrorEvent{Source: c, Err: err})
		return nil, err
	}
	return sent, nil
}

// Destroy tears the connection down: the peer is told, pending calls are
// rejected with *errors.ConnectionClosedError and the transport is closed.
// It is idempotent.
func (c *Connection) Destroy(ctx context.Context) error {
	c.destroy(ctx, nil, true)
	return nil
}

func (c *Connection) destroy(ctx context.Context, reason error, notifyPeer bool) {
	c.mu.Lock()
	prev := c.lifecycle
	if prev.Terminal() {
		c.mu.Unlock()
		return
	}
	c.lifecycle = entities.LifecycleDestroyed
	c.mu.Unlock()

	switch prev {
	case entities.LifecycleAwaitingHandshake:
		c.signalHandshake(&errors.ConnectionClosedError{Ref: c.Ref(), Operation: "handshake"})
	case entities.LifecycleReady:
		if notifyPeer {
			if err := c.send(ctx, entities.Envelope{Kind: entities.KindDestroy}); err != nil {
				c.logger.Debug("failed to notify peer of destroy", "error", err)
			}
		}
	}

	if prev == entities.LifecycleCreated {
		c.cancel()
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("closing transport", "error", err)
		}
	} else {
		c.release()
	}

	c.logger.Info("module destroyed", "reason", reason)
	c.bus.Emit(DestroyEvent{Source: c, Reason: reason})
	close(c.done)
}

func (c *Connection) dispatch(env entities.Envelope) {
	if c.cfg.expectedOrigin != "" && env.Origin != "" && env.Origin != c.cfg.expectedOrigin {
		c.unauthorized(env, "origin mismatch")
		return
	}

	lifecycle := c.Lifecycle()
	if env.Kind.IsHandshake() {
		c.dispatchHandshake(lifecycle, env)
		return
	}

	if lifecycle != entities.LifecycleReady {
		c.logger.Debug("dropping envelope outside READY", "kind", env.Kind, "state", lifecycle)
		return
	}
	if env.AuthToken != c.meta.AuthToken {
		c.unauthorized(env, "auth token mismatch")
		return
	}

	switch env.Kind {
	case entities.KindOperation:
		go c.serve(env)
	case entities.KindOperationResult, entities.KindOperationError:
		c.calls.Resolve(env)
	case entities.KindPushState:
		c.populate(env)
	case entities.KindDestroy:
		c.destroy(c.ctx, nil, false)
	default:
		c.logger.Debug("ignoring envelope", "kind", env.Kind)
	}
}

func (c *Connection) dispatchHandshake(lifecycle entities.LifecycleState, env entities.Envelope) {
	if lifecycle != entities.LifecycleAwaitingHandshake {
		c.logger.Debug("ignoring handshake envelope", "kind", env.Kind, "state", lifecycle)
		return
	}
	switch env.Kind {
	case entities.KindReady:
		if env.AuthToken != c.meta.AuthToken {
			c.unauthorized(env, "ready with wrong auth token")
			return
		}
		c.markReady()
	case entities.KindImportError:
		var cause error = env.Error
		if env.Error == nil {
			cause = stdErrors.New("module failed to import")
		}
		c.signalHandshake(&errors.HandshakeTimeoutError{Ref: c.Ref(), Duration: c.cfg.connectionTimeout, Cause: cause})
	}
}

func (c *Connection) unauthorized(env entities.Envelope, reason string) {
	c.logger.Debug("dropping unauthorized envelope", "kind", env.Kind, "origin", env.Origin, "reason", reason)
	if c.cfg.errorOnUnauthorized {
		c.bus.Emit(ErrorEvent{Source: c, Err: &errors.UnauthorizedError{Ref: c.Ref(), Origin: env.Origin, Reason: reason}})
	}
}

func (c *Connection) serve(env entities.Envelope) {
	ctx := operations.WithCaller(c.ctx, c.Ref())
	if err := c.calls.Serve(ctx, c.ops, env); err != nil {
		c.bus.Emit(ErrorEvent{Source: c, Err: err})
	}
}

func (c *Connection) observeOperation(o rpc.Outcome) {
	c.bus.Emit(OperationEvent{
		Source:    c,
		Operation: o.Operation,
		Args:      o.Args,
		Result:    o.Result,
		Err:       o.Err,
		Duration:  o.Duration,
	})
}

func (c *Connection) populate(env entities.Envelope) {
	se := env.StateEnvelope()
	accepted, ok, err := c.populator.Accept(c.Ref(), c.slot.Get(), se)
	if err != nil {
		c.logger.Warn("invalid state from peer", "error", err)
		c.bus.Emit(ErrorEvent{Source: c, Err: err})
		return
	}
	if !ok {
		c.unauthorized(env, "state rejected by policy")
		return
	}

	c.slot.Set(accepted)
	c.bus.Emit(StatePushEvent{Source: c, State: accepted.Clone(), Options: se.Options})
	if c.cfg.populate != nil {
		c.cfg.populate(c.ctx, c, accepted, se.Options)
	}
}

func (c *Connection) handleTransportError(err error) {
	var chErr *errors.ChannelError
	if stdErrors.As(err, &chErr) && chErr.ReplyTo != "" {
		if c.calls.Fail(chErr.ReplyTo, err) {
			return
		}
	}

	if stdErrors.Is(err, transport.ErrClosed) {
		switch c.Lifecycle() {
		case entities.LifecycleAwaitingHandshake:
			c.signalHandshake(&errors.HandshakeTimeoutError{Ref: c.Ref(), Duration: c.cfg.connectionTimeout, Cause: err})
		case entities.LifecycleReady:
			c.destroy(c.ctx, err, false)
		}
		return
	}

	if c.Lifecycle().Terminal() {
		return
	}
	if chErr == nil {
		err = &errors.ChannelError{Err: err}
	}
	c.logger.Warn("transport error", "error", err)
	c.bus.Emit(ErrorEvent{Source: c, Err: err})
}
