package provider

import (
	"log/slog"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/extension"
)

type config struct {
	logger     *slog.Logger
	loader     ports.CodeLoader
	factory    ports.ContextFactory
	extOptions []extension.Option
	host       entities.Config
}

func defaultConfig() config {
	return config{
		logger: slog.Default(),
		host:   entities.DefaultConfig(),
	}
}

// Option configures a Provider.
type Option func(*config)

// WithConfig sets the host settings every extension inherits.
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

// WithLoader sets the code loader shared by all extensions.
func WithLoader(l ports.CodeLoader) Option {
	return func(c *config) {
		c.loader = l
	}
}

// WithFactory sets the context factory shared by all extensions.
func WithFactory(f ports.ContextFactory) Option {
	return func(c *config) {
		c.factory = f
	}
}

// WithExtensionOptions adds options applied to every loaded extension,
// before the per-load options.
func WithExtensionOptions(opts ...extension.Option) Option {
	return func(c *config) {
		c.extOptions = append(c.extOptions, opts...)
	}
}
