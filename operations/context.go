package operations

import (
	"context"
	"sync"
)

// CallContext wraps a context.Context with call-specific helpers. It gives
// middleware and handlers the operation name and the connection that sent
// the request.
type CallContext interface {
	context.Context

	// Operation returns the name of the operation being invoked.
	Operation() string

	// Caller returns the reference of the connection that sent the request.
	// Empty when invoked locally.
	Caller() string

	// SetValue stores a request-scoped value.
	SetValue(key, value any)

	// GetValue retrieves a request-scoped value set by SetValue.
	GetValue(key any) (value any, ok bool)
}

type callContext struct {
	context.Context
	values    map[any]any
	operation string
	caller    string
	mu        sync.Mutex
}

type callerKey struct{}

// WithCaller records the connection reference that issued a request.
func WithCaller(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, callerKey{}, ref)
}

// NewCallContext creates a CallContext wrapping ctx.
func NewCallContext(ctx context.Context, operation string) CallContext {
	caller, _ := ctx.Value(callerKey{}).(string)
	return &callContext{
		Context:   ctx,
		operation: operation,
		caller:    caller,
		values:    make(map[any]any),
	}
}

// CallContextFrom returns ctx when it already is a CallContext for the same
// operation, or wraps it.
func CallContextFrom(ctx context.Context, operation string) CallContext {
	if cc, ok := ctx.(CallContext); ok && cc.Operation() == operation {
		return cc
	}
	return NewCallContext(ctx, operation)
}

func (c *callContext) Operation() string { return c.operation }

func (c *callContext) Caller() string { return c.caller }

func (c *callContext) SetValue(key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *callContext) GetValue(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}
