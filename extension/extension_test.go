package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reglet-dev/extrunner/connection"
	"github.com/reglet-dev/extrunner/domain/entities"
	domerrors "github.com/reglet-dev/extrunner/domain/errors"
	"github.com/reglet-dev/extrunner/guest"
	"github.com/reglet-dev/extrunner/infrastructure/memory"
	"github.com/reglet-dev/extrunner/internal/testutil"
	"github.com/reglet-dev/extrunner/operations"
	"github.com/reglet-dev/extrunner/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testRef = entities.ModuleRef{Type: entities.OriginGitHub, Name: "acme/widgets", Version: "1.0.0"}

func whoami(name string) *operations.Registry {
	return operations.MustRegistry(
		operations.WithHandler("whoami", func(_ context.Context, _ []any) (any, error) {
			return name, nil
		}),
	)
}

func newTestExtension(t *testing.T, rt *memory.Runtime, opts ...Option) *Extension {
	t.Helper()
	base := []Option{
		WithLoader(rt.Loader),
		WithFactory(rt.Factory),
		WithConfig(entities.NewConfig(
			entities.WithConnectionTimeout(time.Second),
			entities.WithOperationTimeout(time.Second),
		)),
	}
	ext, err := New(testRef, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { ext.DestroyAll(context.Background()) })
	return ext
}

// stateCounter counts state_push envelopes received by module adapters.
type stateCounter struct {
	mu     sync.Mutex
	counts map[*guest.Adapter]int
}

func (c *stateCounter) module() memory.Module {
	return memory.Module{
		Main: func(_ context.Context, a *guest.Adapter) error {
			a.Subscribe(func(ev guest.Event) {
				if _, ok := ev.(guest.StateEvent); ok {
					c.mu.Lock()
					c.counts[a]++
					c.mu.Unlock()
				}
			})
			return nil
		},
	}
}

func (c *stateCounter) count(a *guest.Adapter) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[a]
}

func TestNew_Validation(t *testing.T) {
	rt := memory.NewRuntime()

	_, err := New(entities.ModuleRef{Type: "svn", Name: "x", Version: "1"}, WithLoader(rt.Loader), WithFactory(rt.Factory))
	require.Error(t, err)

	_, err = New(testRef, WithFactory(rt.Factory))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loader")

	_, err = New(testRef, WithLoader(rt.Loader))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "factory")

	ext, err := New(testRef, WithLoader(rt.Loader), WithFactory(rt.Factory))
	require.NoError(t, err)
	assert.Equal(t, "github/acme/widgets", ext.ID())
	assert.Equal(t, testRef, ext.Ref())
}

func TestStart_LoadsPackageJSON(t *testing.T) {
	rt := memory.NewRuntime()
	ext := newTestExtension(t, rt)

	err := ext.Start(context.Background())
	require.Error(t, err)
	var loadErr *domerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 404, loadErr.StatusCode)
	assert.Nil(t, ext.Package())

	rt.AddFile(testRef, "package.json", []byte(`{"name":"widgets","version":"1.0.0","main":"main.js"}`))
	require.NoError(t, ext.Start(context.Background()))
	require.NotNil(t, ext.Package())
	assert.Equal(t, "main.js", ext.Package().Main)

	// Started extensions do not fetch again.
	require.NoError(t, ext.Start(context.Background()))
	assert.Equal(t, 2, rt.Loader.Fetches(memory.URL(testRef, "package.json")))
}

func TestLoadFile(t *testing.T) {
	rt := memory.NewRuntime()
	rt.AddFile(testRef, "assets/data.txt", []byte("payload"))
	ext := newTestExtension(t, rt)

	data, err := ext.LoadFile(context.Background(), "./assets/data.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = ext.LoadFile(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, domerrors.ErrNotFound)
}

func TestLaunch(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "main.js", []byte("code"), memory.Module{Operations: whoami("main")})
	ext := newTestExtension(t, rt, WithBaseState(entities.State{"theme": "dark"}))
	rec := &testutil.Recorder[Event]{}
	ext.Subscribe(rec.Record)

	conn, err := ext.Launch(context.Background(), "./main.js", nil, WithData(map[string]any{"k": "v"}))
	require.NoError(t, err)

	assert.Equal(t, entities.LifecycleReady, conn.Lifecycle())
	assert.Equal(t, "main.js", conn.Path())
	assert.Equal(t, entities.WindowBackground, conn.WindowType())
	assert.Equal(t, entities.State{"theme": "dark"}, conn.State())
	assert.Equal(t, map[string]any{"k": "v"}, conn.Meta().Data)
	assert.NotEmpty(t, conn.Meta().AuthToken)

	res, err := conn.Execute(context.Background(), "whoami")
	require.NoError(t, err)
	assert.Equal(t, "main", res)

	require.Len(t, ext.All(), 1)
	loads := testutil.OfType[ModuleLoadEvent](rec)
	require.Len(t, loads, 1)
	assert.Same(t, conn, loads[0].Module)

	got, ok := ext.Get(conn.ID())
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestLaunch_MetaModifiers(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "main.js", nil, memory.Module{})
	ext := newTestExtension(t, rt, WithModifyMeta(func(m entities.Meta) entities.Meta {
		m.Data = "extension"
		return m
	}))

	conn, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)
	assert.Equal(t, "extension", conn.Meta().Data)

	conn, err = ext.Launch(context.Background(), "main.js", nil, WithMetaModifier(func(m entities.Meta) entities.Meta {
		m.Data = m.Data.(string) + "+launch"
		return m
	}))
	require.NoError(t, err)
	assert.Equal(t, "extension+launch", conn.Meta().Data)
}

func TestLaunch_HandshakeTimeoutIsNotRegistered(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "silent.js", nil, memory.Module{Silent: true})
	ext := newTestExtension(t, rt, WithConfig(entities.NewConfig(entities.WithConnectionTimeout(50*time.Millisecond))))
	rec := &testutil.Recorder[Event]{}
	ext.Subscribe(rec.Record)

	start := time.Now()
	_, err := ext.Launch(context.Background(), "silent.js", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domerrors.ErrHandshakeTimeout)
	assert.Less(t, time.Since(start), time.Second)

	assert.Empty(t, ext.All())
	assert.Empty(t, testutil.OfType[ModuleLoadEvent](rec))
}

func TestLaunch_ImportError(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "broken.js", nil, memory.Module{ImportError: errors.New("syntax error")})
	ext := newTestExtension(t, rt)

	_, err := ext.Launch(context.Background(), "broken.js", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domerrors.ErrHandshakeTimeout)
	assert.Empty(t, ext.All())
}

func TestLaunch_MissingEntryPoint(t *testing.T) {
	rt := memory.NewRuntime()
	ext := newTestExtension(t, rt)

	_, err := ext.Launch(context.Background(), "nope.js", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domerrors.ErrNotFound)
	assert.Empty(t, ext.All())
}

func TestLaunchComponent(t *testing.T) {
	rt := memory.NewRuntime()
	url := rt.PublishComponent(testRef, "ui/panel.html", memory.Module{Operations: whoami("panel")})
	ext := newTestExtension(t, rt)
	container := &memory.Container{}

	conn, err := ext.LaunchComponent(context.Background(), container, "ui/panel.html", nil)
	require.NoError(t, err)
	assert.Equal(t, entities.WindowVisual, conn.WindowType())
	assert.Equal(t, entities.WindowVisual, conn.Meta().WindowType)
	assert.Equal(t, []string{url}, container.Mounted())

	res, err := conn.Execute(context.Background(), "whoami")
	require.NoError(t, err)
	assert.Equal(t, "panel", res)

	_, err = ext.LaunchComponent(context.Background(), nil, "ui/panel.html", nil)
	require.Error(t, err)
}

func TestForEach_ParallelSummary(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "a.js", nil, memory.Module{Operations: whoami("a")})
	rt.Publish(testRef, "b.js", nil, memory.Module{Operations: whoami("b")})
	rt.Publish(testRef, "c.js", nil, memory.Module{Operations: operations.MustRegistry(
		operations.WithHandler("whoami", func(_ context.Context, _ []any) (any, error) {
			return nil, errors.New("c is broken")
		}),
	)})
	ext := newTestExtension(t, rt)
	for _, p := range []string{"a.js", "b.js", "c.js"} {
		_, err := ext.Launch(context.Background(), p, nil)
		require.NoError(t, err)
	}

	sum := ext.ExecuteAll(context.Background(), nil, "whoami")
	require.Len(t, sum.Affected, 2)
	assert.Equal(t, "a.js", sum.Affected[0].Path())
	assert.Equal(t, "b.js", sum.Affected[1].Path())
	assert.Equal(t, []any{"a", "b"}, sum.Result)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "c.js", sum.Failed[0].Path())
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0].Error(), "c is broken")
	assert.Equal(t, "c.js", sum.Outcomes[2].Module.Path())
}

func TestForEach_SequentialAndPanics(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "a.js", nil, memory.Module{})
	rt.Publish(testRef, "b.js", nil, memory.Module{})
	ext := newTestExtension(t, rt)
	for _, p := range []string{"a.js", "b.js"} {
		_, err := ext.Launch(context.Background(), p, nil)
		require.NoError(t, err)
	}

	var order []string
	sum := ext.ForEach(context.Background(), func(_ context.Context, c *connection.Connection) (any, error) {
		order = append(order, c.Path())
		if c.Path() == "a.js" {
			panic("boom")
		}
		return c.Path(), nil
	}, ForEachOptions{})

	assert.Equal(t, []string{"a.js", "b.js"}, order)
	require.Len(t, sum.Affected, 1)
	assert.Equal(t, "b.js", sum.Affected[0].Path())
	assert.Equal(t, []any{"b.js"}, sum.Result)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "a.js", sum.Failed[0].Path())
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0].Error(), "panic: boom")
}

func TestFilter(t *testing.T) {
	rt := memory.NewRuntime()
	for _, p := range []string{"a.js", "b.js", "c.js"} {
		rt.Publish(testRef, p, nil, memory.Module{})
	}
	ext := newTestExtension(t, rt)
	conns := map[string]*connection.Connection{}
	for _, p := range []string{"a.js", "b.js", "c.js"} {
		c, err := ext.Launch(context.Background(), p, nil)
		require.NoError(t, err)
		conns[p] = c
	}

	paths := func(f *Filter) []string {
		var out []string
		for _, c := range f.Apply(ext.All()) {
			out = append(out, c.Path())
		}
		return out
	}

	tests := []struct {
		name   string
		filter *Filter
		want   []string
	}{
		{name: "nil selects all", filter: nil, want: []string{"a.js", "b.js", "c.js"}},
		{name: "empty selects none", filter: &Filter{}, want: nil},
		{name: "by path", filter: &Filter{Paths: []string{"./b.js"}}, want: []string{"b.js"}},
		{name: "by id", filter: &Filter{IDs: []string{conns["c.js"].ID()}}, want: []string{"c.js"}},
		{name: "by check", filter: &Filter{Check: func(c *connection.Connection) bool { return c.Path() != "a.js" }}, want: []string{"b.js", "c.js"}},
		{name: "union", filter: &Filter{Paths: []string{"a.js"}, IDs: []string{conns["c.js"].ID()}}, want: []string{"a.js", "c.js"}},
		{name: "not path wins", filter: &Filter{Paths: []string{"a.js", "b.js"}, NotPaths: []string{"/b.js"}}, want: []string{"a.js"}},
		{name: "not id wins", filter: &Filter{Check: func(*connection.Connection) bool { return true }, NotIDs: []string{conns["a.js"].ID()}}, want: []string{"b.js", "c.js"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, paths(tt.filter))
		})
	}
}

func TestPushState_Filtered(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "a.js", nil, memory.Module{})
	rt.Publish(testRef, "b.js", nil, memory.Module{})
	ext := newTestExtension(t, rt, WithBaseState(entities.State{"n": 0.0}))
	a, err := ext.Launch(context.Background(), "a.js", nil)
	require.NoError(t, err)
	b, err := ext.Launch(context.Background(), "b.js", nil)
	require.NoError(t, err)

	sum := ext.PushState(context.Background(), entities.State{"flag": true}, true, &Filter{Paths: []string{"a.js"}})
	assert.Equal(t, []*connection.Connection{a}, sum.Affected)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, entities.State{"n": 0.0, "flag": true}, a.State())
	assert.Equal(t, entities.State{"n": 0.0}, b.State())

	guestA := rt.Factory.Adapters(memory.URL(testRef, "a.js"))[0]
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(entities.State{"n": 0.0, "flag": true}, guestA.State())
	}, time.Second, time.Millisecond)

	// Pushing from the host does not touch the baseline.
	_, ok := ext.Baseline("a.js")
	assert.False(t, ok)
}

func TestPopulate_FansOutToSiblings(t *testing.T) {
	rt := memory.NewRuntime()
	counter := &stateCounter{counts: map[*guest.Adapter]int{}}
	url := rt.Publish(testRef, "main.js", nil, counter.module())
	rt.Publish(testRef, "other.js", nil, counter.module())
	ext := newTestExtension(t, rt)
	rec := &testutil.Recorder[Event]{}
	ext.Subscribe(rec.Record)

	var conns []*connection.Connection
	for range 3 {
		c, err := ext.Launch(context.Background(), "main.js", nil)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	other, err := ext.Launch(context.Background(), "other.js", nil)
	require.NoError(t, err)

	adapters := rt.Factory.Adapters(url)
	require.Len(t, adapters, 3)
	_, err = adapters[0].PushState(context.Background(), entities.State{"x": 1.0})
	require.NoError(t, err)

	want := entities.State{"x": 1.0}
	for _, a := range adapters[1:] {
		require.Eventually(t, func() bool {
			return counter.count(a) == 1 && assert.ObjectsAreEqual(want, a.State())
		}, time.Second, time.Millisecond)
	}
	for _, c := range conns {
		require.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, c.State()) }, time.Second, time.Millisecond)
	}
	assert.Never(t, func() bool { return counter.count(adapters[0]) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, entities.State{}, other.State())

	require.Eventually(t, func() bool {
		baseline, ok := ext.Baseline("main.js")
		return ok && assert.ObjectsAreEqual(want, baseline)
	}, time.Second, time.Millisecond)
	require.Len(t, testutil.OfType[PushStateEvent](rec), 1)
	assert.Same(t, conns[0], testutil.OfType[PushStateEvent](rec)[0].Module)

	// Later launches on the same path start from the baseline.
	late, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)
	assert.Equal(t, want, late.State())

	// An explicit initial state wins over the baseline.
	custom, err := ext.Launch(context.Background(), "main.js", nil, WithInitialState(entities.State{"x": 9.0}))
	require.NoError(t, err)
	assert.Equal(t, entities.State{"x": 9.0}, custom.State())
}

func TestPopulate_ReportsSiblingFailures(t *testing.T) {
	rt := memory.NewRuntime()
	rt.Publish(testRef, "main.js", nil, memory.Module{})
	ext := newTestExtension(t, rt)
	rec := &testutil.Recorder[Event]{}
	ext.Subscribe(rec.Record)

	src, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)
	sib, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)

	// A sibling registered before its handshake completed.
	host, _ := transport.Pipe()
	meta := src.Meta()
	meta.AuthToken = "pending-token"
	pending, err := connection.New(meta, host, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pending.Destroy(context.Background()) })
	ext.mu.Lock()
	g := ext.groups[src.Path()]
	g.members = append(g.members, pending)
	ext.mu.Unlock()

	ext.populate(context.Background(), src, entities.State{"x": 1.0}, entities.StateOptions{Populate: true})

	errs := testutil.OfType[ErrorEvent](rec)
	require.Len(t, errs, 1)
	assert.Same(t, pending, errs[0].Module)
	assert.ErrorIs(t, errs[0].Err, domerrors.ErrNotReady)
	assert.Contains(t, errs[0].Err.Error(), "populate from")
	assert.Equal(t, entities.State{"x": 1.0}, sib.State(), "healthy siblings still receive the state")

	// Send failures surface once, through the sibling's connection.
	rec.Reset()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	ext.mu.Lock()
	g.members = g.members[:len(g.members)-1]
	ext.mu.Unlock()
	ext.populate(canceled, src, entities.State{"x": 2.0}, entities.StateOptions{Populate: true})

	errs = testutil.OfType[ErrorEvent](rec)
	require.Len(t, errs, 1)
	assert.Same(t, sib, errs[0].Module)
	assert.ErrorIs(t, errs[0].Err, context.Canceled)
}

func TestPopulate_Disabled(t *testing.T) {
	rt := memory.NewRuntime()
	counter := &stateCounter{counts: map[*guest.Adapter]int{}}
	url := rt.Publish(testRef, "main.js", nil, counter.module())
	ext := newTestExtension(t, rt)

	a, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)
	b, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)

	adapters := rt.Factory.Adapters(url)
	_, err = adapters[0].PushState(context.Background(), entities.State{"x": 1.0}, guest.WithPopulate(false))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(entities.State{"x": 1.0}, a.State())
	}, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return counter.count(adapters[1]) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, entities.State{}, b.State())
	_, ok := ext.Baseline("main.js")
	assert.False(t, ok)
}

func TestModuleDestroyedByPeer(t *testing.T) {
	rt := memory.NewRuntime()
	url := rt.Publish(testRef, "main.js", nil, memory.Module{})
	ext := newTestExtension(t, rt)
	rec := &testutil.Recorder[Event]{}
	ext.Subscribe(rec.Record)

	conn, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)

	require.NoError(t, rt.Factory.Adapters(url)[0].Destroy(context.Background()))
	<-conn.Done()

	require.Eventually(t, func() bool { return len(testutil.OfType[ModuleDestroyEvent](rec)) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, ext.All())
	assert.Equal(t, []string{"main.js"}, ext.Paths())
}

func TestDestroyAll(t *testing.T) {
	rt := memory.NewRuntime()
	url := rt.Publish(testRef, "main.js", nil, memory.Module{})
	ext := newTestExtension(t, rt)
	rec := &testutil.Recorder[Event]{}
	ext.Subscribe(rec.Record)

	var launched []*connection.Connection
	for range 3 {
		c, err := ext.Launch(context.Background(), "main.js", nil)
		require.NoError(t, err)
		launched = append(launched, c)
	}

	sum := ext.DestroyAll(context.Background())
	assert.Len(t, sum.Affected, 3)
	assert.Empty(t, sum.Failed)

	for _, c := range launched {
		assert.Equal(t, entities.LifecycleDestroyed, c.Lifecycle())
	}
	for _, a := range rt.Factory.Adapters(url) {
		select {
		case <-a.Done():
		case <-time.After(time.Second):
			t.Fatal("module not shut down")
		}
	}
	assert.Empty(t, ext.All())
	assert.Empty(t, ext.Paths())

	destroys := testutil.OfType[DestroyEvent](rec)
	require.Len(t, destroys, 1)
	assert.Equal(t, launched, destroys[0].Modules)
	assert.Len(t, testutil.OfType[ModuleDestroyEvent](rec), 3)

	// Subscribers are dropped with the extension.
	_, err := ext.Launch(context.Background(), "main.js", nil)
	require.NoError(t, err)
	assert.Len(t, testutil.OfType[ModuleLoadEvent](rec), 3)
}

func ExampleExtension_ForEach() {
	rt := memory.NewRuntime()
	for _, p := range []string{"a.js", "b.js"} {
		rt.Publish(testRef, p, nil, memory.Module{Operations: whoami(p)})
	}
	ext, _ := New(testRef, WithLoader(rt.Loader), WithFactory(rt.Factory))
	defer ext.DestroyAll(context.Background())

	for _, p := range []string{"a.js", "b.js"} {
		if _, err := ext.Launch(context.Background(), p, nil); err != nil {
			fmt.Println(err)
			return
		}
	}
	sum := ext.ExecuteAll(context.Background(), nil, "whoami")
	fmt.Println(len(sum.Affected), sum.Result)
	// Output: 2 [a.js b.js]
}
