package extension

import (
	"log/slog"

	"github.com/reglet-dev/extrunner/connection"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/state"
)

// MetaModifier rewrites the meta of a module about to be launched.
type MetaModifier func(entities.Meta) entities.Meta

type config struct {
	logger      *slog.Logger
	loader      ports.CodeLoader
	factory     ports.ContextFactory
	merge       state.MergeFunc
	policy      state.Policy
	modifyMeta  MetaModifier
	baseState   entities.State
	connOptions []connection.Option
	host        entities.Config
}

func defaultConfig() config {
	return config{
		logger: slog.Default(),
		merge:  state.ShallowMerge,
		policy: state.Allow(true),
		host:   entities.DefaultConfig(),
	}
}

// Option configures an Extension.
type Option func(*config)

// WithConfig sets the host protocol settings applied to every module.
func WithConfig(cfg entities.Config) Option {
	return func(c *config) {
		c.host = cfg.Normalize()
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

// WithLoader sets the code loader used for entry points and files.
func WithLoader(l ports.CodeLoader) Option {
	return func(c *config) {
		c.loader = l
	}
}

// WithFactory sets the factory creating isolated contexts.
func WithFactory(f ports.ContextFactory) Option {
	return func(c *config) {
		c.factory = f
	}
}

// WithMergeFunc sets the merge function of every module.
func WithMergeFunc(fn state.MergeFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.merge = fn
		}
	}
}

// WithStatePolicy sets the policy authorizing states pushed by modules.
func WithStatePolicy(p state.Policy) Option {
	return func(c *config) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithModifyMeta rewrites the meta of every launched module.
func WithModifyMeta(fn MetaModifier) Option {
	return func(c *config) {
		c.modifyMeta = fn
	}
}

// WithBaseState sets the initial state of modules launched on a path that
// has no baseline yet.
func WithBaseState(s entities.State) Option {
	return func(c *config) {
		c.baseState = s.Clone()
	}
}

// WithConnectionOptions adds options applied to every module connection.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(c *config) {
		c.connOptions = append(c.connOptions, opts...)
	}
}

type launchConfig struct {
	initialState entities.State
	data         any
	modifyMeta   MetaModifier
	connOptions  []connection.Option
}

// LaunchOption configures one Launch or LaunchComponent call.
type LaunchOption func(*launchConfig)

// WithInitialState overrides the group baseline for this module.
func WithInitialState(s entities.State) LaunchOption {
	return func(c *launchConfig) {
		c.initialState = s.Clone()
	}
}

// WithData attaches free-form data to the module's meta.
func WithData(data any) LaunchOption {
	return func(c *launchConfig) {
		c.data = data
	}
}

// WithMetaModifier rewrites this module's meta after WithModifyMeta ran.
func WithMetaModifier(fn MetaModifier) LaunchOption {
	return func(c *launchConfig) {
		c.modifyMeta = fn
	}
}

// WithModuleOptions adds connection options for this module only.
func WithModuleOptions(opts ...connection.Option) LaunchOption {
	return func(c *launchConfig) {
		c.connOptions = append(c.connOptions, opts...)
	}
}
