package guest

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/extrunner"
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

// Adapter is the module side of a connection.
type Adapter struct {
	transport ports.Transport
	ctx       context.Context
	logger    *slog.Logger
	ops       *operations.Registry
	calls     *rpc.Correlator
	slot      *state.Slot
	meta      *entities.Meta
	metaReady chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	cfg       config
	bus       events.Bus[Event]
	unsubs    []func()
	mu        sync.Mutex
	destroyed bool
}

// New creates an Adapter and starts listening on tr.
func New(tr ports.Transport, ops *operations.Registry, opts ...Option) *Adapter {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		transport: tr,
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.logger,
		ops:       ops,
		cfg:       cfg,
		slot:      state.NewSlot(nil, state.ShallowMerge),
		metaReady: make(chan struct{}),
		done:      make(chan struct{}),
	}
	a.calls = rpc.New(a.send,
		rpc.WithTimeout(cfg.operationTimeout),
		rpc.WithLogger(cfg.logger),
		rpc.WithObserver(a.observeOperation),
	)
	a.unsubs = append(a.unsubs,
		tr.OnMessage(a.handle),
		tr.OnError(a.handleError),
	)
	return a
}

// Start waits for the host's meta envelope and runs the OnStart hooks.
// It fails with *errors.TimeoutError if meta does not arrive in time.
func (a *Adapter) Start(ctx context.Context) (entities.Meta, error) {
	select {
	case <-a.metaReady:
	case <-a.done:
		return entities.Meta{}, &errors.ConnectionClosedError{Ref: "guest", Operation: "start"}
	case <-ctx.Done():
		return entities.Meta{}, &errors.TimeoutError{Operation: "start", Duration: a.cfg.startTimeout}
	case <-timeAfter(a.cfg.startTimeout):
		return entities.Meta{}, &errors.TimeoutError{Operation: "start", Duration: a.cfg.startTimeout}
	}

	meta := a.Meta()
	for _, fn := range a.cfg.onStart {
		fn(ctx, meta.Clone())
	}
	return meta, nil
}

// Meta returns the meta received from the host, or the zero Meta before it.
func (a *Adapter) Meta() entities.Meta {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.meta == nil {
		return entities.Meta{}
	}
	return a.meta.Clone()
}

// State returns the module's current state.
func (a *Adapter) State() entities.State { return a.slot.Get() }

// Subscribe registers an event handler.
func (a *Adapter) Subscribe(fn func(Event)) func() { return a.bus.Subscribe(fn) }

// Done is closed once the adapter shut down.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Execute calls an operation the host exposes to this module.
func (a *Adapter) Execute(ctx context.Context, operation string, args ...any) (any, error) {
	if err := a.checkStarted(operation); err != nil {
		return nil, err
	}
	return a.calls.Execute(ctx, operation, args...)
}

// PushState sends s to the host. By default the host merges it into the
// state it holds and broadcasts the result to sibling instances. The local
// state is updated once the envelope was sent.
func (a *Adapter) PushState(ctx context.Context, s entities.State, opts ...PushOption) (entities.State, error) {
	if err := a.checkStarted("push_state"); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &errors.InvalidStateError{Ref: a.ref(), Reason: "missing state object"}
	}

	options := entities.DefaultStateOptions()
	for _, opt := range opts {
		opt(&options)
	}

	next := a.slot.Next(s, options.Merge)
	err := a.send(ctx, entities.Envelope{
		Kind:    entities.KindPushState,
		State:   s.Clone(),
		Options: &options,
	})
	if err != nil {
		return nil, err
	}
	a.slot.Set(next)
	return next, nil
}

// LoadFile fetches a file published alongside the module.
func (a *Adapter) LoadFile(ctx context.Context, path string) ([]byte, error) {
	if a.cfg.loader == nil {
		return nil, fmt.Errorf("no loader configured")
	}
	if err := a.checkStarted("load_file"); err != nil {
		return nil, err
	}
	url, err := a.cfg.loader.Resolve(a.Meta().Ref(), extrunner.RelPath(path))
	if err != nil {
		return nil, err
	}
	return a.cfg.loader.FetchContent(ctx, url)
}

// ReportImportError tells a host still waiting for ready that the module
// could not load. The host fails the handshake immediately.
func (a *Adapter) ReportImportError(ctx context.Context, cause error) error {
	return a.transport.Send(ctx, entities.Envelope{
		Kind:  entities.KindImportError,
		Error: errors.ToErrorDetail(cause),
	})
}

// Destroy shuts the module side down and tells the host.
func (a *Adapter) Destroy(ctx context.Context) error {
	if a.isStarted() {
		if err := a.send(ctx, entities.Envelope{Kind: entities.KindDestroy}); err != nil {
			a.logger.Debug("failed to notify host of destroy", "error", err)
		}
	}
	a.shutdown(nil, false)
	return nil
}

func (a *Adapter) shutdown(reason error, fromHost bool) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	a.mu.Unlock()

	a.calls.RejectAll()
	a.cancel()
	for _, unsub := range a.unsubs {
		unsub()
	}
	for _, fn := range a.cfg.onDestroy {
		fn()
	}
	a.bus.Emit(DestroyEvent{Reason: reason, FromHost: fromHost})
	_ = a.transport.Close()
	close(a.done)
}

func (a *Adapter) isStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta != nil && !a.destroyed
}

func (a *Adapter) checkStarted(operation string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.destroyed:
		return &errors.ConnectionClosedError{Ref: a.refLocked(), Operation: operation}
	case a.meta == nil:
		return &errors.NotReadyError{Ref: "guest", State: entities.LifecycleAwaitingHandshake}
	}
	return nil
}

func (a *Adapter) ref() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refLocked()
}

func (a *Adapter) refLocked() string {
	if a.meta == nil {
		return "guest"
	}
	return a.meta.Name + "/" + a.meta.Path
}

func (a *Adapter) token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.meta == nil {
		return ""
	}
	return a.meta.AuthToken
}

func (a *Adapter) send(ctx context.Context, env entities.Envelope) error {
	env.AuthToken = a.token()
	return a.transport.Send(ctx, env)
}

func (a *Adapter) handle(env entities.Envelope) {
	if a.cfg.hostOrigin != "" && env.Origin != "" && env.Origin != a.cfg.hostOrigin {
		a.unauthorized(env, "origin mismatch")
		return
	}

	if env.Kind == entities.KindMeta {
		a.acceptMeta(env)
		return
	}

	token := a.token()
	if token == "" {
		a.logger.Debug("dropping envelope before meta", "kind", env.Kind)
		return
	}
	if env.AuthToken != token {
		a.unauthorized(env, "auth token mismatch")
		return
	}

	switch env.Kind {
	case entities.KindOperation:
		go a.serve(env)
	case entities.KindOperationResult, entities.KindOperationError:
		a.calls.Resolve(env)
	case entities.KindStatePush:
		se := env.StateEnvelope()
		if se.State == nil {
			a.bus.Emit(ErrorEvent{Err: &errors.InvalidStateError{Ref: a.ref(), Reason: "missing state object"}})
			return
		}
		a.slot.Set(a.slot.Next(se.State, se.Options.Merge))
		a.bus.Emit(StateEvent{State: a.slot.Get()})
	case entities.KindDestroy:
		a.shutdown(nil, true)
	default:
		a.logger.Debug("ignoring envelope", "kind", env.Kind)
	}
}

func (a *Adapter) acceptMeta(env entities.Envelope) {
	a.mu.Lock()
	if a.meta != nil {
		token := a.meta.AuthToken
		a.mu.Unlock()
		// Already initialized: ignore the new meta but answer again.
		a.sendReady(token)
		return
	}
	if env.Meta == nil {
		a.mu.Unlock()
		a.logger.Warn("meta envelope without meta")
		return
	}
	if err := validate.Struct(env.Meta); err != nil {
		a.mu.Unlock()
		a.logger.Warn("invalid meta", "error", err)
		return
	}
	meta := env.Meta.Clone()
	a.meta = &meta
	a.mu.Unlock()

	a.slot.Set(meta.InitialState)
	close(a.metaReady)
	a.sendReady(meta.AuthToken)
}

func (a *Adapter) sendReady(token string) {
	if err := a.transport.Send(a.ctx, entities.Envelope{Kind: entities.KindReady, AuthToken: token}); err != nil {
		a.logger.Warn("failed to send ready", "error", err)
	}
}

func (a *Adapter) unauthorized(env entities.Envelope, reason string) {
	a.logger.Debug("dropping unauthorized envelope", "kind", env.Kind, "reason", reason)
	if a.cfg.errorOnUnauthorized {
		a.bus.Emit(ErrorEvent{Err: &errors.UnauthorizedError{Ref: a.ref(), Origin: env.Origin, Reason: reason}})
	}
}

func (a *Adapter) serve(env entities.Envelope) {
	if err := a.calls.Serve(a.ctx, a.ops, env); err != nil {
		a.bus.Emit(ErrorEvent{Err: err})
	}
}

func (a *Adapter) observeOperation(o rpc.Outcome) {
	a.bus.Emit(OperationEvent{
		Operation: o.Operation,
		Args:      o.Args,
		Result:    o.Result,
		Err:       o.Err,
		Duration:  o.Duration,
	})
}

func (a *Adapter) handleError(err error) {
	var chErr *errors.ChannelError
	if stdErrors.As(err, &chErr) && chErr.ReplyTo != "" && a.calls.Fail(chErr.ReplyTo, err) {
		return
	}
	if stdErrors.Is(err, transport.ErrClosed) {
		a.shutdown(err, false)
		return
	}
	a.bus.Emit(ErrorEvent{Err: err})
}
