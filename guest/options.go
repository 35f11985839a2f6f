package guest

import (
	"context"
	"log/slog"
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/ports"
)

// DefaultStartTimeout bounds the wait for the host's meta envelope.
const DefaultStartTimeout = 5 * time.Second

type config struct {
	logger              *slog.Logger
	loader              ports.CodeLoader
	onStart             []func(context.Context, entities.Meta)
	onDestroy           []func()
	hostOrigin          string
	startTimeout        time.Duration
	operationTimeout    time.Duration
	errorOnUnauthorized bool
}

func defaultConfig() config {
	return config{
		logger:           slog.Default(),
		startTimeout:     DefaultStartTimeout,
		operationTimeout: entities.DefaultOperationTimeout,
	}
}

// Option configures an Adapter.
type Option func(*config)

// WithStartTimeout sets how long Start waits for meta.
func WithStartTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.startTimeout = d
		}
	}
}

// WithOperationTimeout sets the deadline of calls to host operations.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.operationTimeout = d
		}
	}
}

// WithHostOrigin rejects envelopes stamped with another origin.
func WithHostOrigin(origin string) Option {
	return func(c *config) {
		c.hostOrigin = origin
	}
}

// WithErrorOnUnauthorized reports dropped unauthorized envelopes as
// ErrorEvents.
func WithErrorOnUnauthorized(enabled bool) Option {
	return func(c *config) {
		c.errorOnUnauthorized = enabled
	}
}

// WithLoader enables LoadFile.
func WithLoader(l ports.CodeLoader) Option {
	return func(c *config) {
		c.loader = l
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

// OnStart registers a hook run once meta arrived, before Start returns.
func OnStart(fn func(context.Context, entities.Meta)) Option {
	return func(c *config) {
		c.onStart = append(c.onStart, fn)
	}
}

// OnDestroy registers a hook run when the adapter shuts down.
func OnDestroy(fn func()) Option {
	return func(c *config) {
		c.onDestroy = append(c.onDestroy, fn)
	}
}

// PushOption configures one PushState call.
type PushOption func(*entities.StateOptions)

// WithMerge asks the host to merge the pushed state into what it holds.
// Default true.
func WithMerge(enabled bool) PushOption {
	return func(o *entities.StateOptions) {
		o.Merge = enabled
	}
}

// WithPopulate asks the host to broadcast the state to sibling instances.
// Default true.
func WithPopulate(enabled bool) PushOption {
	return func(o *entities.StateOptions) {
		o.Populate = enabled
	}
}
