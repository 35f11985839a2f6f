package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/events"
	"github.com/reglet-dev/extrunner/extension"
)

// Provider owns the extensions loaded by a host.
type Provider struct {
	extensions map[string]*extension.Extension
	cfg        config
	bus        events.Bus[Event]
	loads      singleflight.Group
	mu         sync.Mutex
}

// New creates a Provider. A loader and a factory are required.
func New(opts ...Option) (*Provider, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loader == nil {
		return nil, fmt.Errorf("provider: a code loader is required")
	}
	if cfg.factory == nil {
		return nil, fmt.Errorf("provider: a context factory is required")
	}
	return &Provider{
		extensions: make(map[string]*extension.Extension),
		cfg:        cfg,
	}, nil
}

// Subscribe registers an event handler.
func (p *Provider) Subscribe(fn func(Event)) func() { return p.bus.Subscribe(fn) }

// LoadExtension returns the extension for ref, loading and starting it on
// first use. Extensions are cached by ref.ID(), so a second call with a
// different version returns the extension already loaded. Concurrent calls
// for the same id share one load, which is not canceled with ctx: a caller
// whose ctx ends stops waiting while the load completes for the others.
func (p *Provider) LoadExtension(ctx context.Context, ref entities.ModuleRef, opts ...extension.Option) (*extension.Extension, error) {
	if ext, ok := p.GetExtension(ref.ID()); ok {
		return ext, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := p.loads.DoChan(ref.ID(), func() (any, error) {
		if ext, ok := p.GetExtension(ref.ID()); ok {
			return ext, nil
		}
		return p.load(loadCtx, ref, opts)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*extension.Extension), nil
	}
}

func (p *Provider) load(ctx context.Context, ref entities.ModuleRef, opts []extension.Option) (*extension.Extension, error) {
	extOpts := append([]extension.Option{
		extension.WithConfig(p.cfg.host),
		extension.WithLogger(p.cfg.logger),
		extension.WithLoader(p.cfg.loader),
		extension.WithFactory(p.cfg.factory),
	}, p.cfg.extOptions...)
	extOpts = append(extOpts, opts...)

	ext, err := extension.New(ref, extOpts...)
	if err != nil {
		return nil, err
	}
	if err := ext.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to load extension: %w", err)
	}

	ext.Subscribe(func(ev extension.Event) { p.relay(ext, ev) })

	p.mu.Lock()
	p.extensions[ref.ID()] = ext
	p.mu.Unlock()

	p.cfg.logger.Info("extension loaded", "extension", ref.ID(), "version", ref.Version)
	p.bus.Emit(ExtensionLoadEvent{Extension: ext})
	return ext, nil
}

func (p *Provider) relay(ext *extension.Extension, ev extension.Event) {
	if d, ok := ev.(extension.DestroyEvent); ok {
		p.mu.Lock()
		if p.extensions[ext.ID()] == ext {
			delete(p.extensions, ext.ID())
		}
		p.mu.Unlock()
		p.bus.Emit(ExtensionDestroyEvent{Extension: ext, Modules: d.Modules})
		return
	}
	p.bus.Emit(ModuleEvent{Extension: ext, Event: ev})
}

// GetExtension returns the cached extension with the given id.
func (p *Provider) GetExtension(id string) (*extension.Extension, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ext, ok := p.extensions[id]
	return ext, ok
}

// AllExtensions returns the cached extensions ordered by id.
func (p *Provider) AllExtensions() []*extension.Extension {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*extension.Extension, 0, len(p.extensions))
	for _, ext := range p.extensions {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DestroyExtension destroys the extension with the given id and all of its
// modules.
func (p *Provider) DestroyExtension(ctx context.Context, id string) bool {
	ext, ok := p.GetExtension(id)
	if !ok {
		return false
	}
	ext.DestroyAll(ctx)
	return true
}

// Destroy destroys every extension and removes all subscribers.
func (p *Provider) Destroy(ctx context.Context) {
	var g errgroup.Group
	for _, ext := range p.AllExtensions() {
		g.Go(func() error {
			ext.DestroyAll(ctx)
			return nil
		})
	}
	_ = g.Wait()
	p.cfg.logger.Info("provider destroyed")
	p.bus.Clear()
}
