package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/state"
)

// PopulateFunc is called after the host accepted a state pushed by the
// peer. It runs on the dispatch goroutine.
type PopulateFunc func(ctx context.Context, source *Connection, accepted entities.State, opts entities.StateOptions)

type config struct {
	logger              *slog.Logger
	merge               state.MergeFunc
	policy              state.Policy
	populate            PopulateFunc
	id                  string
	expectedOrigin      string
	connectionTimeout   time.Duration
	operationTimeout    time.Duration
	errorOnUnauthorized bool
}

func defaultConfig() config {
	return config{
		logger:            slog.Default(),
		merge:             state.ShallowMerge,
		policy:            state.Allow(true),
		connectionTimeout: entities.DefaultConnectionTimeout,
		operationTimeout:  entities.DefaultOperationTimeout,
	}
}

// Option configures a Connection.
type Option func(*config)

// WithConfig applies the timeouts and unauthorized reporting of cfg.
func WithConfig(cfg entities.Config) Option {
	return func(c *config) {
		if cfg.ConnectionTimeout > 0 {
			c.connectionTimeout = cfg.ConnectionTimeout
		}
		if cfg.OperationTimeout > 0 {
			c.operationTimeout = cfg.OperationTimeout
		}
		c.errorOnUnauthorized = cfg.ErrorOnUnauthorized
	}
}

// WithConnectionTimeout sets how long Start waits for ready.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connectionTimeout = d
		}
	}
}

// WithOperationTimeout sets the deadline of each outbound call.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.operationTimeout = d
		}
	}
}

// WithExpectedOrigin rejects envelopes stamped with a different origin.
func WithExpectedOrigin(origin string) Option {
	return func(c *config) {
		c.expectedOrigin = origin
	}
}

// WithErrorOnUnauthorized emits an ErrorEvent for every dropped
// unauthorized envelope instead of dropping it silently.
func WithErrorOnUnauthorized(enabled bool) Option {
	return func(c *config) {
		c.errorOnUnauthorized = enabled
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

// WithMergeFunc sets the merge function used for state pushes in both
// directions.
func WithMergeFunc(fn state.MergeFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.merge = fn
		}
	}
}

// WithStatePolicy sets the policy authorizing states pushed by the peer.
func WithStatePolicy(p state.Policy) Option {
	return func(c *config) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithPopulateHandler sets the callback run after a peer push is accepted.
func WithPopulateHandler(fn PopulateFunc) Option {
	return func(c *config) {
		c.populate = fn
	}
}

// WithID overrides the generated connection id.
func WithID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}
