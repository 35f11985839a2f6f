package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/extension"
	"github.com/reglet-dev/extrunner/infrastructure/config"
	"github.com/reglet-dev/extrunner/infrastructure/loader"
	"github.com/reglet-dev/extrunner/infrastructure/wazero"
	hostlog "github.com/reglet-dev/extrunner/log"
	"github.com/reglet-dev/extrunner/operations"
	"github.com/reglet-dev/extrunner/provider"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load the configured extensions and run their modules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), flags, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			factory, err := wazero.NewFactory(ctx,
				wazero.WithLogger(logger),
				wazero.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
			)
			if err != nil {
				return fmt.Errorf("start wasm runtime: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := factory.Close(closeCtx); err != nil {
					logger.Warn("wasm runtime did not close cleanly", "error", err)
				}
			}()

			var loaderOpts []loader.Option
			if cfg.CDNURL != "" {
				loaderOpts = append(loaderOpts, loader.WithCDNURL(cfg.CDNURL))
			}
			return run(ctx, cfg, logger, loader.NewCDN(loaderOpts...), factory)
		},
	}
}

// newLogger builds the host logger. Flags win over the config file.
func newLogger(w io.Writer, flags *globalFlags, cfg config.File) (*slog.Logger, error) {
	level := cfg.Host.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	format := cfg.LogFormat
	if flags.logFormat != "" {
		format = flags.logFormat
	}
	return hostlog.New(w, level, format)
}

// run launches every configured module and blocks until ctx is done, then
// destroys everything it started.
func run(ctx context.Context, cfg config.File, logger *slog.Logger, l ports.CodeLoader, f ports.ContextFactory) error {
	p, err := provider.New(
		provider.WithConfig(cfg.Host),
		provider.WithLogger(logger),
		provider.WithLoader(l),
		provider.WithFactory(f),
	)
	if err != nil {
		return err
	}
	defer func() {
		destroyCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		p.Destroy(destroyCtx)
	}()
	unsubscribe := p.Subscribe(logEvents(logger))
	defer unsubscribe()

	if err := launch(ctx, p, cfg, hostOperations(logger)); err != nil {
		return err
	}
	logger.Info("extrunner running", "extensions", len(cfg.Extensions))
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func launch(ctx context.Context, p *provider.Provider, cfg config.File, ops *operations.Registry) error {
	for _, ec := range cfg.Extensions {
		ext, err := p.LoadExtension(ctx, ec.Ref())
		if err != nil {
			return fmt.Errorf("extension %s: %w", ec.Ref().ID(), err)
		}
		for _, path := range ec.Launch {
			if _, err := ext.Launch(ctx, path, ops); err != nil {
				return err
			}
		}
	}
	return nil
}

// hostOperations are the operations every module may call on the host.
func hostOperations(logger *slog.Logger) *operations.Registry {
	return operations.MustRegistry(
		operations.WithMiddleware(
			operations.PanicRecoveryMiddleware(),
			operations.LoggingMiddleware(logger),
		),
		operations.WithHandler("ping", func(context.Context, []any) (any, error) {
			return "pong", nil
		}),
		operations.WithHandler("log", func(ctx context.Context, args []any) (any, error) {
			logger.InfoContext(ctx, "module says", "args", args)
			return nil, nil
		}),
	)
}

func logEvents(logger *slog.Logger) func(provider.Event) {
	return func(ev provider.Event) {
		switch e := ev.(type) {
		case provider.ExtensionLoadEvent:
			logger.Info("extension loaded", "extension", e.Extension.ID())
		case provider.ExtensionDestroyEvent:
			logger.Info("extension destroyed", "extension", e.Extension.ID(), "modules", len(e.Modules))
		case provider.ModuleEvent:
			logModuleEvent(logger.With("extension", e.Extension.ID()), e.Event)
		}
	}
}

func logModuleEvent(logger *slog.Logger, ev extension.Event) {
	switch e := ev.(type) {
	case extension.ModuleLoadEvent:
		logger.Info("module started", "module", e.Module.ID(), "path", e.Module.Path())
	case extension.ModuleDestroyEvent:
		logger.Info("module stopped", "module", e.Module.ID(), "reason", e.Reason)
	case extension.OperationEvent:
		logger.Debug("operation served", "module", e.Module.ID(), "operation", e.Operation, "duration", e.Duration, "error", e.Err)
	case extension.PushStateEvent:
		logger.Debug("state pushed", "module", e.Module.ID(), "populate", e.Options.Populate)
	case extension.ErrorEvent:
		logger.Warn("module error", "module", e.Module.ID(), "error", e.Err)
	}
}
