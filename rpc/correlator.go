// Package rpc correlates operation requests with their replies over a
// message channel and serves inbound requests from an operation registry.
package rpc

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/operations"
)

// SendFunc posts one envelope to the peer.
type SendFunc func(ctx context.Context, env entities.Envelope) error

// Outcome describes one inbound operation after it ran.
type Outcome struct {
	Err       error
	Result    any
	Operation string
	ReplyTo   string
	Args      []any
	Duration  time.Duration
}

type reply struct {
	err   error
	value any
}

type pendingCall struct {
	ch        chan reply
	operation string
}

// Correlator owns the pending calls of one connection.
type Correlator struct {
	send     SendFunc
	logger   *slog.Logger
	observer func(Outcome)
	newToken func() string
	pending  map[string]*pendingCall
	ref      string
	timeout  time.Duration
	mu       sync.Mutex
	closed   bool
}

type config struct {
	logger   *slog.Logger
	observer func(Outcome)
	newToken func() string
	ref      string
	timeout  time.Duration
}

func defaultConfig() config {
	return config{
		logger:   slog.Default(),
		newToken: uuid.NewString,
		timeout:  entities.DefaultOperationTimeout,
	}
}

// Option configures a Correlator.
type Option func(*config)

// WithTimeout sets the per-call deadline. Zero disables it; the caller's
// context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithRef sets the connection reference used in errors and logs.
func WithRef(ref string) Option {
	return func(c *config) {
		c.ref = ref
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a callback receiving every served Outcome.
func WithObserver(fn func(Outcome)) Option {
	return func(c *config) {
		c.observer = fn
	}
}

// WithTokenSource replaces the correlation token generator.
func WithTokenSource(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.newToken = fn
		}
	}
}

// New creates a Correlator sending through send.
func New(send SendFunc, opts ...Option) *Correlator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Correlator{
		send:     send,
		logger:   cfg.logger,
		observer: cfg.observer,
		newToken: cfg.newToken,
		ref:      cfg.ref,
		timeout:  cfg.timeout,
		pending:  make(map[string]*pendingCall),
	}
}

// Execute invokes operation on the peer and waits for its reply.
//
// It fails with *errors.TimeoutError when the deadline elapses,
// *errors.OperationNotFoundError or *errors.OperationExecutionError when
// the peer reports so, *errors.ChannelError when the reply channel fails
// and *errors.ConnectionClosedError when the correlator is rejected.
func (c *Correlator) Execute(ctx context.Context, operation string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}

	token, call, err := c.register(operation)
	if err != nil {
		return nil, err
	}

	env := entities.Envelope{
		Kind:      entities.KindOperation,
		Operation: operation,
		Args:      args,
		ReplyTo:   token,
	}
	if err := c.send(ctx, env); err != nil {
		c.forget(token)
		return nil, err
	}

	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-call.ch:
		return r.value, r.err
	case <-timeoutC:
		if c.forget(token) {
			c.logger.Debug("operation timed out", "ref", c.ref, "operation", operation, "timeout", c.timeout)
			return nil, &errors.TimeoutError{Operation: operation, Target: c.ref, Duration: c.timeout}
		}
		r := <-call.ch
		return r.value, r.err
	case <-ctx.Done():
		if c.forget(token) {
			return nil, ctx.Err()
		}
		r := <-call.ch
		return r.value, r.err
	}
}

func (c *Correlator) register(operation string) (string, *pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, &errors.ConnectionClosedError{Ref: c.ref, Operation: operation}
	}

	token := c.newToken()
	for _, taken := c.pending[token]; taken; _, taken = c.pending[token] {
		token = c.newToken()
	}
	call := &pendingCall{
		ch:        make(chan reply, 1),
		operation: operation,
	}
	c.pending[token] = call
	return token, call, nil
}

// forget removes a pending call and reports whether it was still pending.
func (c *Correlator) forget(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[token]; !ok {
		return false
	}
	delete(c.pending, token)
	return true
}

func (c *Correlator) take(token string) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[token]
	if ok {
		delete(c.pending, token)
	}
	return call, ok
}

// Resolve settles the pending call an operation:result or operation:error
// envelope answers. It reports false for unknown or expired tokens, which
// callers must ignore.
func (c *Correlator) Resolve(env entities.Envelope) bool {
	if env.ReplyTo == "" {
		return false
	}
	call, ok := c.take(env.ReplyTo)
	if !ok {
		c.logger.Debug("ignoring reply for unknown token", "ref", c.ref, "reply_to", env.ReplyTo, "kind", env.Kind)
		return false
	}

	switch env.Kind {
	case entities.KindOperationResult:
		call.ch <- reply{value: env.Payload}
	case entities.KindOperationError:
		call.ch <- reply{err: errors.FromErrorDetail(call.operation, env.Error)}
	default:
		call.ch <- reply{err: &errors.ChannelError{ReplyTo: env.ReplyTo, Err: stdErrors.New("unexpected reply kind " + string(env.Kind))}}
	}
	return true
}

// Fail rejects the pending call bound to token with a channel error.
func (c *Correlator) Fail(token string, err error) bool {
	call, ok := c.take(token)
	if !ok {
		return false
	}
	var chErr *errors.ChannelError
	if !stdErrors.As(err, &chErr) {
		err = &errors.ChannelError{ReplyTo: token, Err: err}
	}
	call.ch <- reply{err: err}
	return true
}

// RejectAll rejects every pending call with *errors.ConnectionClosedError
// and refuses new calls.
func (c *Correlator) RejectAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	n := len(c.pending)
	for token, call := range c.pending {
		call.ch <- reply{err: &errors.ConnectionClosedError{Ref: c.ref, Operation: call.operation}}
		delete(c.pending, token)
	}
	return n
}

// Pending returns the number of calls awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Serve runs the operation an inbound envelope requests and posts the
// result, or the structured error, to its reply token. The outcome is
// reported to the observer either way. A failing reply send is returned
// but does not change the outcome.
func (c *Correlator) Serve(ctx context.Context, reg *operations.Registry, env entities.Envelope) error {
	start := time.Now()
	result, err := c.invoke(ctx, reg, env)

	out := Outcome{
		Operation: env.Operation,
		ReplyTo:   env.ReplyTo,
		Args:      env.Args,
		Duration:  time.Since(start),
	}

	replyEnv := entities.Envelope{ReplyTo: env.ReplyTo}
	if err != nil {
		if !stdErrors.Is(err, errors.ErrOperationNotFound) && !stdErrors.Is(err, errors.ErrOperationExecution) {
			err = &errors.OperationExecutionError{Operation: env.Operation, Err: err}
		}
		out.Err = err
		replyEnv.Kind = entities.KindOperationError
		replyEnv.Error = replyDetail(err)
	} else {
		out.Result = result
		replyEnv.Kind = entities.KindOperationResult
		replyEnv.Payload = result
	}

	var sendErr error
	if env.ReplyTo != "" {
		sendErr = c.send(ctx, replyEnv)
		if sendErr != nil {
			c.logger.Warn("failed to send operation reply", "ref", c.ref, "operation", env.Operation, "error", sendErr)
		}
	}

	if c.observer != nil {
		c.observer(out)
	}
	return sendErr
}

// invoke runs the handler. A panicking handler fails only its own call.
func (c *Correlator) invoke(ctx context.Context, reg *operations.Registry, env entities.Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("operation panicked", "ref", c.ref, "operation", env.Operation, "panic", r)
			result = nil
			err = &errors.OperationExecutionError{Operation: env.Operation, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return reg.Invoke(ctx, env.Operation, env.Args)
}

// replyDetail encodes an inbound failure for the caller. Execution errors
// travel as their cause so the caller does not see the operation name twice.
func replyDetail(err error) *entities.ErrorDetail {
	var notFound *errors.OperationNotFoundError
	if stdErrors.As(err, &notFound) {
		return notFound.ToErrorDetail()
	}
	var execErr *errors.OperationExecutionError
	if stdErrors.As(err, &execErr) && execErr.Err != nil {
		detail := errors.ToErrorDetail(execErr.Err)
		out := *detail
		if out.Code == "" {
			out.Code = errors.CodeExecutionError
		}
		return &out
	}
	return errors.ToErrorDetail(err)
}
