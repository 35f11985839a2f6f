package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/guest"
	"github.com/reglet-dev/extrunner/operations"
	"github.com/reglet-dev/extrunner/transport"
)

// Module describes the program a context runs.
type Module struct {
	// Operations are exposed to the host.
	Operations *operations.Registry
	// Main runs after the handshake. The context is canceled when the
	// module shuts down.
	Main func(ctx context.Context, a *guest.Adapter) error
	// ImportError, when set, is reported instead of completing the handshake.
	ImportError error
	// Options configure the module's adapter.
	Options []guest.Option
	// Silent modules never answer the host.
	Silent bool
}

// Factory creates in-process contexts for registered modules.
type Factory struct {
	logger   *slog.Logger
	loader   ports.CodeLoader
	modules  map[string]Module
	adapters map[string][]*guest.Adapter
	pipeOpts []transport.PipeOption
	mu       sync.Mutex
}

var _ ports.ContextFactory = (*Factory)(nil)

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger handed to module adapters.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithModuleLoader sets the loader modules use for LoadFile.
func WithModuleLoader(l ports.CodeLoader) FactoryOption {
	return func(f *Factory) {
		f.loader = l
	}
}

// WithPipeOptions adds options to every pipe the factory creates.
func WithPipeOptions(opts ...transport.PipeOption) FactoryOption {
	return func(f *Factory) {
		f.pipeOpts = append(f.pipeOpts, opts...)
	}
}

// NewFactory creates a Factory with no modules.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		logger:   slog.Default(),
		modules:  make(map[string]Module),
		adapters: make(map[string][]*guest.Adapter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register makes m the program run for contexts created from url.
func (f *Factory) Register(url string, m Module) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[url] = m
}

// Adapters returns the adapters created for url, oldest first.
func (f *Factory) Adapters(url string) []*guest.Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*guest.Adapter(nil), f.adapters[url]...)
}

// CreateBackground implements ports.ContextFactory.
func (f *Factory) CreateBackground(ctx context.Context, src ports.BackgroundSource) (ports.Transport, error) {
	return f.create(ctx, src.URL, entities.WindowBackground)
}

// CreateVisual implements ports.ContextFactory.
func (f *Factory) CreateVisual(ctx context.Context, url string, container ports.Container) (ports.Transport, error) {
	if err := container.Mount(url); err != nil {
		return nil, fmt.Errorf("mount %s: %w", url, err)
	}
	return f.create(ctx, url, entities.WindowVisual)
}

func (f *Factory) create(ctx context.Context, url string, window entities.WindowType) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	m, ok := f.modules[url]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no module registered at %s", url)
	}

	opts := append([]transport.PipeOption{transport.WithWindowType(window)}, f.pipeOpts...)
	host, peer := transport.Pipe(opts...)

	switch {
	case m.Silent:
	case m.ImportError != nil:
		f.reportImportError(peer, m.ImportError)
	default:
		f.run(url, peer, m)
	}
	return host, nil
}

func (f *Factory) reportImportError(peer *transport.Endpoint, cause error) {
	peer.OnMessage(func(env entities.Envelope) {
		if env.Kind != entities.KindMeta {
			return
		}
		err := peer.Send(context.Background(), entities.Envelope{
			Kind:  entities.KindImportError,
			Error: errors.ToErrorDetail(cause),
		})
		if err != nil {
			f.logger.Debug("failed to report import error", "error", err)
		}
	})
}

func (f *Factory) run(url string, peer *transport.Endpoint, m Module) {
	opts := []guest.Option{guest.WithLogger(f.logger)}
	if f.loader != nil {
		opts = append(opts, guest.WithLoader(f.loader))
	}
	a := guest.New(peer, m.Operations, append(opts, m.Options...)...)

	f.mu.Lock()
	f.adapters[url] = append(f.adapters[url], a)
	f.mu.Unlock()

	if m.Main == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-a.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		if _, err := a.Start(ctx); err != nil {
			f.logger.Debug("module did not start", "url", url, "error", err)
			return
		}
		if err := m.Main(ctx, a); err != nil {
			f.logger.Warn("module exited with error", "url", url, "error", err)
		}
	}()
}

// Container records the URLs mounted into it.
type Container struct {
	mounted []string
	mu      sync.Mutex
}

var _ ports.Container = (*Container)(nil)

// Mount implements ports.Container.
func (c *Container) Mount(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = append(c.mounted, url)
	return nil
}

// Mounted returns the mounted URLs in order.
func (c *Container) Mounted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.mounted...)
}

// Runtime bundles a Loader and a Factory sharing one module namespace.
type Runtime struct {
	Loader  *Loader
	Factory *Factory
}

// NewRuntime creates an empty Runtime. Modules load files through its Loader.
func NewRuntime(opts ...FactoryOption) *Runtime {
	l := NewLoader()
	return &Runtime{
		Loader:  l,
		Factory: NewFactory(append([]FactoryOption{WithModuleLoader(l)}, opts...)...),
	}
}

// Publish stores code at path inside ref and registers m as its program.
// It returns the module URL.
func (r *Runtime) Publish(ref entities.ModuleRef, path string, code []byte, m Module) string {
	url := r.Loader.Add(ref, path, code)
	r.Factory.Register(url, m)
	return url
}

// PublishComponent registers m as the visual component at path inside ref.
func (r *Runtime) PublishComponent(ref entities.ModuleRef, path string, m Module) string {
	url := ComponentURL(ref, path)
	r.Factory.Register(url, m)
	return url
}

// AddFile stores a plain file at path inside ref.
func (r *Runtime) AddFile(ref entities.ModuleRef, path string, content []byte) string {
	return r.Loader.Add(ref, path, content)
}
