package wazero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reglet-dev/extrunner/domain/ports"
	hostlog "github.com/reglet-dev/extrunner/log"
)

// DefaultMaxMessageSize bounds one envelope crossing the sandbox boundary.
const DefaultMaxMessageSize = 1 << 20 // 1MB

// FactoryConfig holds configuration for the wazero factory.
type FactoryConfig struct {
	// Logger receives module log records and bridge diagnostics.
	Logger *slog.Logger

	// Stdout and Stderr receive the guests' standard streams. Nil discards.
	Stdout io.Writer
	Stderr io.Writer

	// ModuleName is the host import module name (default: "extrunner_host").
	ModuleName string

	// MaxMessageSize limits the size of one envelope in either direction.
	MaxMessageSize uint32

	// MemoryLimitPages caps each guest's memory in 64KiB pages. Zero keeps
	// the wazero default.
	MemoryLimitPages uint32
}

// FactoryOption configures the factory.
type FactoryOption func(*FactoryConfig)

// WithModuleName sets the host import module name.
func WithModuleName(name string) FactoryOption {
	return func(c *FactoryConfig) {
		if name != "" {
			c.ModuleName = name
		}
	}
}

// WithMaxMessageSize sets the largest envelope accepted from or sent to a guest.
func WithMaxMessageSize(size uint32) FactoryOption {
	return func(c *FactoryConfig) {
		if size > 0 {
			c.MaxMessageSize = size
		}
	}
}

// WithMemoryLimitPages caps guest memory.
func WithMemoryLimitPages(pages uint32) FactoryOption {
	return func(c *FactoryConfig) {
		c.MemoryLimitPages = pages
	}
}

// WithLogger sets the logger guest records are replayed into.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(c *FactoryConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithOutput routes the guests' stdout and stderr.
func WithOutput(stdout, stderr io.Writer) FactoryOption {
	return func(c *FactoryConfig) {
		c.Stdout = stdout
		c.Stderr = stderr
	}
}

func defaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		Logger:         slog.Default(),
		ModuleName:     "extrunner_host",
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Factory implements ports.ContextFactory with one wazero runtime shared by
// all modules it creates.
type Factory struct {
	runtime  wazero.Runtime
	bridges  map[string]*Bridge
	compiled map[string]wazero.CompiledModule
	cfg      FactoryConfig
	seq      atomic.Uint64
	mu       sync.Mutex
}

var _ ports.ContextFactory = (*Factory)(nil)

// NewFactory creates the runtime and registers the host import module.
func NewFactory(ctx context.Context, opts ...FactoryOption) (*Factory, error) {
	cfg := defaultFactoryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}

	f := &Factory{
		runtime:  rt,
		bridges:  make(map[string]*Bridge),
		compiled: make(map[string]wazero.CompiledModule),
		cfg:      cfg,
	}
	if err := f.registerHostModule(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}
	return f, nil
}

// Config returns the effective configuration.
func (f *Factory) Config() FactoryConfig { return f.cfg }

// Close stops every module and releases the runtime.
func (f *Factory) Close(ctx context.Context) error {
	f.mu.Lock()
	bridges := make([]*Bridge, 0, len(f.bridges))
	for _, b := range f.bridges {
		bridges = append(bridges, b)
	}
	f.mu.Unlock()

	for _, b := range bridges {
		_ = b.Close()
		<-b.Done()
	}
	return f.runtime.Close(ctx)
}

// CreateBackground compiles src.Code (cached by URL) and starts it as a WASI
// command. The returned Bridge is usable immediately; envelopes wait until
// the guest polls them.
func (f *Factory) CreateBackground(ctx context.Context, src ports.BackgroundSource) (ports.Transport, error) {
	compiled, err := f.compile(ctx, src)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s#%d", src.Name, f.seq.Add(1))
	b := newBridge(f, name)
	f.mu.Lock()
	f.bridges[name] = b
	f.mu.Unlock()

	modCtx, cancel := context.WithCancel(context.Background())
	mc := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()
	if f.cfg.Stdout != nil {
		mc = mc.WithStdout(f.cfg.Stdout)
	}
	if f.cfg.Stderr != nil {
		mc = mc.WithStderr(f.cfg.Stderr)
	}

	mod, err := f.runtime.InstantiateModule(ctx, compiled, mc)
	if err != nil {
		cancel()
		b.abort()
		return nil, fmt.Errorf("failed to instantiate module %s: %w", src.Name, err)
	}
	start := mod.ExportedFunction("_start")
	if start == nil || mod.ExportedFunction("allocate") == nil {
		cancel()
		b.abort()
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("module %s must export _start and allocate", src.Name)
	}

	b.attach(mod, cancel)
	go b.run(modCtx, start)
	return b, nil
}

// CreateVisual is not supported: wasm modules have no rendering surface.
func (f *Factory) CreateVisual(context.Context, string, ports.Container) (ports.Transport, error) {
	return nil, fmt.Errorf("wazero: visual contexts are not supported")
}

func (f *Factory) compile(ctx context.Context, src ports.BackgroundSource) (wazero.CompiledModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.compiled[src.URL]; ok && src.URL != "" {
		return c, nil
	}
	c, err := f.runtime.CompileModule(ctx, src.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %s: %w", src.Name, err)
	}
	if src.URL != "" {
		f.compiled[src.URL] = c
	}
	return c, nil
}

func (f *Factory) bridge(name string) *Bridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridges[name]
}

func (f *Factory) unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bridges, name)
}

func (f *Factory) registerHostModule(ctx context.Context) error {
	builder := f.runtime.NewHostModuleBuilder(f.cfg.ModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(f.postMessage), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("post_message")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(f.pollMessage), []api.ValueType{}, []api.ValueType{api.ValueTypeI64}).
		Export("poll_message")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(f.logMessage), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("log_message")

	_, err := builder.Instantiate(ctx)
	return err
}

func (f *Factory) postMessage(ctx context.Context, mod api.Module, stack []uint64) {
	b := f.bridge(mod.Name())
	if b == nil {
		return
	}
	data, err := readGuest(mod, stack[0], f.cfg.MaxMessageSize)
	if err != nil {
		b.reject(err)
		return
	}
	b.deliver(data)
}

func (f *Factory) pollMessage(ctx context.Context, mod api.Module, stack []uint64) {
	stack[0] = 0
	b := f.bridge(mod.Name())
	if b == nil {
		return
	}
	if data := b.next(); data != nil {
		stack[0] = writeGuest(ctx, mod, data)
	}
}

func (f *Factory) logMessage(ctx context.Context, mod api.Module, stack []uint64) {
	data, err := readGuest(mod, stack[0], f.cfg.MaxMessageSize)
	if err != nil {
		f.cfg.Logger.WarnContext(ctx, "wazero: unreadable log record", "module", mod.Name(), "error", err)
		return
	}
	var msg hostlog.LogMessageWire
	if err := json.Unmarshal(data, &msg); err != nil {
		f.cfg.Logger.InfoContext(ctx, "module log (raw)", "module", mod.Name(), "payload", string(data))
		return
	}
	hostlog.Replay(ctx, f.cfg.Logger, msg, slog.String("module", mod.Name()))
}
