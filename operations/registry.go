package operations

import (
	"context"
	"fmt"
	"sort"

	"github.com/reglet-dev/extrunner/domain/errors"
)

// Registry is an immutable collection of named operations.
// A nil *Registry is valid and has no operations.
type Registry struct {
	handlers map[string]Handler
	names    []string
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*registryBuilder)

type registryBuilder struct {
	handlers   map[string]Handler
	middleware []Middleware
	errors     []error
}

// NewRegistry creates an immutable Registry with the given options.
// Returns an error if any operation name is registered twice or is empty.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	b := &registryBuilder{handlers: make(map[string]Handler)}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	names := make([]string, 0, len(b.handlers))
	wrapped := make(map[string]Handler, len(b.handlers))
	for name, h := range b.handlers {
		names = append(names, name)
		for i := len(b.middleware) - 1; i >= 0; i-- {
			h = b.middleware[i](h)
		}
		wrapped[name] = h
	}
	sort.Strings(names)

	return &Registry{handlers: wrapped, names: names}, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(opts ...RegistryOption) *Registry {
	r, err := NewRegistry(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Invoke runs the named operation. Unknown names yield
// *errors.OperationNotFoundError.
func (r *Registry) Invoke(ctx context.Context, name string, args []any) (any, error) {
	if r == nil {
		return nil, &errors.OperationNotFoundError{Operation: name}
	}
	h, ok := r.handlers[name]
	if !ok {
		return nil, &errors.OperationNotFoundError{Operation: name}
	}
	return h(CallContextFrom(ctx, name), args)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.handlers[name]
	return ok
}

// Names returns the sorted operation names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (b *registryBuilder) add(name string, h Handler) {
	switch {
	case name == "":
		b.errors = append(b.errors, fmt.Errorf("operation name cannot be empty"))
	case h == nil:
		b.errors = append(b.errors, fmt.Errorf("operation %q has a nil handler", name))
	default:
		if _, exists := b.handlers[name]; exists {
			b.errors = append(b.errors, fmt.Errorf("duplicate operation name: %q", name))
			return
		}
		b.handlers[name] = h
	}
}

// WithHandler registers an untyped operation.
func WithHandler(name string, h Handler) RegistryOption {
	return func(b *registryBuilder) {
		b.add(name, h)
	}
}

// WithTypedHandler registers an operation taking one typed argument.
func WithTypedHandler[Req any, Resp any](name string, fn TypedFunc[Req, Resp]) RegistryOption {
	return func(b *registryBuilder) {
		b.add(name, NewTypedHandler(fn))
	}
}

// WithBundle registers every operation of a bundle.
func WithBundle(bundle Bundle) RegistryOption {
	return func(b *registryBuilder) {
		for name, h := range bundle.Handlers() {
			b.add(name, h)
		}
	}
}

// WithMiddleware adds middleware. The first added wraps outermost.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
