package extension

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/reglet-dev/extrunner"
	"github.com/reglet-dev/extrunner/connection"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/domain/ports"
	"github.com/reglet-dev/extrunner/events"
	"github.com/reglet-dev/extrunner/operations"
)

var validate = validator.New()

// group is the set of live modules sharing one logical path.
type group struct {
	baseline entities.State
	path     string
	members  []*connection.Connection
}

// Extension tracks the module instances of one extension package.
type Extension struct {
	logger     *slog.Logger
	pkg        *entities.PackageJSON
	groups     map[string]*group
	cfg        config
	bus        events.Bus[Event]
	ref        entities.ModuleRef
	order      []*connection.Connection
	mu         sync.Mutex
	startMu    sync.Mutex
	populateMu sync.Mutex
}

// New creates an Extension for ref. A loader and a factory are required.
func New(ref entities.ModuleRef, opts ...Option) (*Extension, error) {
	if err := validate.Struct(ref); err != nil {
		return nil, fmt.Errorf("invalid extension reference: %w", err)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.loader == nil {
		return nil, fmt.Errorf("extension %s: a code loader is required", ref.ID())
	}
	if cfg.factory == nil {
		return nil, fmt.Errorf("extension %s: a context factory is required", ref.ID())
	}

	return &Extension{
		logger: cfg.logger.With("extension", ref.ID()),
		groups: make(map[string]*group),
		cfg:    cfg,
		ref:    ref,
	}, nil
}

// ID returns "<type>/<name>".
func (e *Extension) ID() string { return e.ref.ID() }

// Ref returns the package reference.
func (e *Extension) Ref() entities.ModuleRef { return e.ref }

// Subscribe registers an event handler.
func (e *Extension) Subscribe(fn func(Event)) func() { return e.bus.Subscribe(fn) }

// Start loads the package's package.json. It is a no-op once it succeeded.
func (e *Extension) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.pkg != nil {
		return nil
	}

	data, err := e.LoadFile(ctx, "package.json")
	if err != nil {
		return fmt.Errorf("load package.json: %w", err)
	}
	var pkg entities.PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return fmt.Errorf("parse package.json: %w", err)
	}

	e.mu.Lock()
	e.pkg = &pkg
	e.mu.Unlock()
	e.logger.Debug("extension started", "package", pkg.Name, "version", pkg.Version)
	return nil
}

// Package returns the parsed package.json, or nil before Start.
func (e *Extension) Package() *entities.PackageJSON {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pkg == nil {
		return nil
	}
	pkg := *e.pkg
	return &pkg
}

// LoadFile fetches a file of the package. Non-2xx answers fail with
// *errors.LoadError holding the raw response.
func (e *Extension) LoadFile(ctx context.Context, path string) ([]byte, error) {
	url, err := e.cfg.loader.Resolve(e.ref, extrunner.RelPath(path))
	if err != nil {
		return nil, err
	}
	return e.cfg.loader.FetchContent(ctx, url)
}

// Launch starts a background module running the package file at path and
// registers it once its handshake completed. An empty path launches the
// package entry point.
func (e *Extension) Launch(ctx context.Context, path string, ops *operations.Registry, opts ...LaunchOption) (*connection.Connection, error) {
	path = extrunner.RelPath(path)
	return e.launch(ctx, path, entities.WindowBackground, ops, opts, func(meta entities.Meta) (ports.Transport, error) {
		url, err := e.cfg.loader.Resolve(e.ref, path)
		if err != nil {
			return nil, err
		}
		code, err := e.cfg.loader.FetchContent(ctx, url)
		if err != nil {
			return nil, err
		}
		return e.cfg.factory.CreateBackground(ctx, ports.BackgroundSource{
			URL:  url,
			Code: code,
			Name: e.ref.Name + ":" + path,
		})
	})
}

// LaunchComponent mounts a visual module showing the package file at path
// into container.
func (e *Extension) LaunchComponent(ctx context.Context, container ports.Container, path string, ops *operations.Registry, opts ...LaunchOption) (*connection.Connection, error) {
	if container == nil {
		return nil, fmt.Errorf("launch component %s: container is required", path)
	}
	path = extrunner.RelPath(path)
	return e.launch(ctx, path, entities.WindowVisual, ops, opts, func(meta entities.Meta) (ports.Transport, error) {
		var (
			url string
			err error
		)
		if cr, ok := e.cfg.loader.(ports.ComponentResolver); ok {
			url, err = cr.ResolveComponent(e.ref, path)
		} else {
			url, err = e.cfg.loader.Resolve(e.ref, path)
		}
		if err != nil {
			return nil, err
		}
		return e.cfg.factory.CreateVisual(ctx, url, container)
	})
}

func (e *Extension) launch(ctx context.Context, path string, window entities.WindowType, ops *operations.Registry, opts []LaunchOption, create func(entities.Meta) (ports.Transport, error)) (*connection.Connection, error) {
	var lc launchConfig
	for _, opt := range opts {
		opt(&lc)
	}

	meta := entities.Meta{
		AuthToken:    uuid.NewString(),
		Name:         e.ref.Name,
		Path:         path,
		Version:      e.ref.Version,
		Type:         e.ref.Type,
		WindowType:   window,
		InitialState: e.initialState(path, lc.initialState),
		Data:         lc.data,
	}
	if e.cfg.modifyMeta != nil {
		meta = e.cfg.modifyMeta(meta)
	}
	if lc.modifyMeta != nil {
		meta = lc.modifyMeta(meta)
	}

	tr, err := create(meta)
	if err != nil {
		return nil, fmt.Errorf("launch %s/%s: %w", e.ref.Name, path, err)
	}

	connOpts := append([]connection.Option{
		connection.WithConfig(e.cfg.host),
		connection.WithLogger(e.cfg.logger),
		connection.WithMergeFunc(e.cfg.merge),
		connection.WithStatePolicy(e.cfg.policy),
		connection.WithPopulateHandler(e.populate),
	}, e.cfg.connOptions...)
	connOpts = append(connOpts, lc.connOptions...)

	conn, err := connection.New(meta, tr, ops, connOpts...)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("launch %s/%s: %w", e.ref.Name, path, err)
	}
	conn.Subscribe(e.propagate)

	if err := conn.Start(ctx); err != nil {
		return nil, err
	}

	if !e.register(conn) {
		return nil, &errors.ConnectionClosedError{Ref: conn.Ref(), Operation: "launch"}
	}
	e.logger.Info("module launched", "ref", conn.Ref(), "window", window)
	e.bus.Emit(ModuleLoadEvent{Module: conn})
	return conn, nil
}

func (e *Extension) initialState(path string, override entities.State) entities.State {
	if override != nil {
		return override.Clone()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.groups[path]; ok && g.baseline != nil {
		return g.baseline.Clone()
	}
	if e.cfg.baseState != nil {
		return e.cfg.baseState.Clone()
	}
	return entities.State{}
}

// register adds a ready connection to its group. It reports false when the
// connection died between its handshake and registration.
func (e *Extension) register(conn *connection.Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conn.Lifecycle().Terminal() {
		return false
	}
	g, ok := e.groups[conn.Path()]
	if !ok {
		g = &group{path: conn.Path()}
		e.groups[conn.Path()] = g
	}
	g.members = append(g.members, conn)
	e.order = append(e.order, conn)
	return true
}

// unregister removes conn. The group and its baseline stay for later
// launches on the same path.
func (e *Extension) unregister(conn *connection.Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[conn.Path()]
	if !ok {
		return false
	}
	found := false
	g.members = removeConn(g.members, conn, &found)
	e.order = removeConn(e.order, conn, nil)
	return found
}

func removeConn(list []*connection.Connection, conn *connection.Connection, found *bool) []*connection.Connection {
	for i, c := range list {
		if c == conn {
			if found != nil {
				*found = true
			}
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// All returns every registered module in launch order.
func (e *Extension) All() []*connection.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*connection.Connection(nil), e.order...)
}

// Get returns the module with the given connection id.
func (e *Extension) Get(id string) (*connection.Connection, bool) {
	for _, c := range e.All() {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// Paths returns the paths that have a group, including groups whose
// modules were all destroyed.
func (e *Extension) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.groups))
	for p := range e.groups {
		out = append(out, p)
	}
	return out
}

// Baseline returns the shared state of the group at path.
func (e *Extension) Baseline(path string) (entities.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[extrunner.RelPath(path)]
	if !ok || g.baseline == nil {
		return nil, false
	}
	return g.baseline.Clone(), true
}

// siblings returns the other live members of src's group.
func (e *Extension) siblings(src *connection.Connection) []*connection.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[src.Path()]
	if !ok {
		return nil
	}
	out := make([]*connection.Connection, 0, len(g.members))
	for _, c := range g.members {
		if c != src {
			out = append(out, c)
		}
	}
	return out
}

// populate fans a state accepted from src out to src's siblings and makes
// it the group baseline. Populates from different modules are applied one
// at a time. A sibling that is not ready is reported with an ErrorEvent;
// send failures are reported by the sibling's own connection.
func (e *Extension) populate(ctx context.Context, src *connection.Connection, accepted entities.State, opts entities.StateOptions) {
	if !opts.Populate {
		return
	}
	e.populateMu.Lock()
	defer e.populateMu.Unlock()

	for _, sib := range e.siblings(src) {
		if _, err := sib.PushState(ctx, accepted, false); err != nil {
			e.logger.Warn("populate to sibling failed", "from", src.Ref(), "to", sib.ID(), "error", err)
			if stdErrors.Is(err, errors.ErrNotReady) || stdErrors.Is(err, errors.ErrConnectionClosed) {
				e.bus.Emit(ErrorEvent{Module: sib, Err: fmt.Errorf("populate from %s: %w", src.Ref(), err)})
			}
		}
	}

	e.mu.Lock()
	if g, ok := e.groups[src.Path()]; ok {
		g.baseline = accepted.Clone()
	}
	e.mu.Unlock()
}

func (e *Extension) propagate(ev connection.Event) {
	switch ev := ev.(type) {
	case connection.LoadEvent:
		// ModuleLoadEvent is emitted once the module is registered.
	case connection.OperationEvent:
		e.bus.Emit(OperationEvent{
			Module:    ev.Source,
			Operation: ev.Operation,
			Args:      ev.Args,
			Result:    ev.Result,
			Err:       ev.Err,
			Duration:  ev.Duration,
		})
	case connection.StatePushEvent:
		e.bus.Emit(PushStateEvent{Module: ev.Source, State: ev.State, Options: ev.Options})
	case connection.ErrorEvent:
		e.bus.Emit(ErrorEvent{Module: ev.Source, Err: ev.Err})
	case connection.DestroyEvent:
		if e.unregister(ev.Source) {
			e.bus.Emit(ModuleDestroyEvent{Module: ev.Source, Reason: ev.Reason})
		}
	}
}

// PushState sends s to the selected modules, or all of them when filter is
// nil. Failures are collected in the summary.
func (e *Extension) PushState(ctx context.Context, s entities.State, merge bool, filter *Filter) Summary {
	return e.ForEach(ctx, func(ctx context.Context, c *connection.Connection) (any, error) {
		return c.PushState(ctx, s, merge)
	}, ForEachOptions{Filter: filter, Parallel: true})
}

// ExecuteAll calls operation on the selected modules in parallel.
func (e *Extension) ExecuteAll(ctx context.Context, filter *Filter, operation string, args ...any) Summary {
	return e.ForEach(ctx, func(ctx context.Context, c *connection.Connection) (any, error) {
		return c.Execute(ctx, operation, args...)
	}, ForEachOptions{Filter: filter, Parallel: true})
}

// DestroyAll destroys every module, clears the registry and emits a
// DestroyEvent listing the modules that were registered. Subscribers are
// removed afterwards.
func (e *Extension) DestroyAll(ctx context.Context) Summary {
	all := e.All()
	sum := e.ForEach(ctx, func(ctx context.Context, c *connection.Connection) (any, error) {
		return nil, c.Destroy(ctx)
	}, ForEachOptions{Parallel: true})

	e.mu.Lock()
	e.groups = make(map[string]*group)
	e.order = nil
	e.mu.Unlock()

	e.logger.Info("extension destroyed", "modules", len(all))
	e.bus.Emit(DestroyEvent{Modules: all})
	e.bus.Clear()
	return sum
}
