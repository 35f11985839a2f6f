package operations

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	domerrors "github.com/reglet-dev/extrunner/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, args []any) (any, error) {
	return args, nil
}

func TestNewRegistry_Empty(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
}

func TestNewRegistry_Names(t *testing.T) {
	reg, err := NewRegistry(
		WithHandler("zeta", echo),
		WithHandler("alpha", echo),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, reg.Names())
	assert.True(t, reg.Has("alpha"))
	assert.False(t, reg.Has("beta"))
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(WithHandler("a", echo), WithHandler("a", echo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate operation name")

	_, err = NewRegistry(WithHandler("", echo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")

	_, err = NewRegistry(WithHandler("nil", nil))
	require.Error(t, err)

	assert.Panics(t, func() { MustRegistry(WithHandler("", echo)) })
}

func TestRegistry_Invoke(t *testing.T) {
	reg := MustRegistry(WithHandler("echo", echo))

	t.Run("found", func(t *testing.T) {
		got, err := reg.Invoke(context.Background(), "echo", []any{"a", 1.0})
		require.NoError(t, err)
		assert.Equal(t, []any{"a", 1.0}, got)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := reg.Invoke(context.Background(), "missing", nil)
		var nf *domerrors.OperationNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "missing", nf.Operation)
		assert.False(t, errors.Is(err, domerrors.ErrOperationExecution))
	})

	t.Run("nil registry", func(t *testing.T) {
		var empty *Registry
		_, err := empty.Invoke(context.Background(), "echo", nil)
		assert.True(t, errors.Is(err, domerrors.ErrOperationNotFound))
		assert.False(t, empty.Has("echo"))
		assert.Nil(t, empty.Names())
	})
}

func TestRegistry_CallContext(t *testing.T) {
	reg := MustRegistry(WithHandler("who", func(ctx context.Context, _ []any) (any, error) {
		cc := ctx.(CallContext)
		cc.SetValue("k", "v")
		v, _ := cc.GetValue("k")
		return cc.Operation() + ":" + cc.Caller() + ":" + v.(string), nil
	}))

	got, err := reg.Invoke(WithCaller(context.Background(), "github/acme"), "who", nil)
	require.NoError(t, err)
	assert.Equal(t, "who:github/acme:v", got)
}

type greetRequest struct {
	Name  string `json:"name"`
	Times int    `json:"times"`
}

func TestTypedHandler(t *testing.T) {
	reg := MustRegistry(WithTypedHandler("greet", func(_ context.Context, req greetRequest) (string, error) {
		if req.Name == "" {
			return "", errors.New("name required")
		}
		out := ""
		for i := 0; i < req.Times; i++ {
			out += "hi " + req.Name + ";"
		}
		return out, nil
	}))

	got, err := reg.Invoke(context.Background(), "greet", []any{map[string]any{"name": "ada", "times": 2.0}})
	require.NoError(t, err)
	assert.Equal(t, "hi ada;hi ada;", got)

	_, err = reg.Invoke(context.Background(), "greet", nil)
	assert.EqualError(t, err, "name required")

	_, err = reg.Invoke(context.Background(), "greet", []any{"not an object"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal argument")
}

func TestBundles(t *testing.T) {
	first := Map{"a": echo, "b": echo}
	second := Map{"c": echo}

	reg, err := NewRegistry(WithBundle(Combine(first, second)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())

	_, err = NewRegistry(WithBundle(first), WithHandler("a", echo))
	assert.Error(t, err)
}

func TestMiddlewareOrder(t *testing.T) {
	var trace []string
	mw := func(tag string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, args []any) (any, error) {
				trace = append(trace, tag+">")
				r, err := next(ctx, args)
				trace = append(trace, "<"+tag)
				return r, err
			}
		}
	}

	reg := MustRegistry(
		WithMiddleware(mw("outer"), mw("inner")),
		WithHandler("op", func(context.Context, []any) (any, error) {
			trace = append(trace, "op")
			return nil, nil
		}),
	)
	_, err := reg.Invoke(context.Background(), "op", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer>", "inner>", "op", "<inner", "<outer"}, trace)
}

func TestPanicRecoveryMiddleware(t *testing.T) {
	reg := MustRegistry(
		WithMiddleware(PanicRecoveryMiddleware()),
		WithHandler("boom", func(context.Context, []any) (any, error) {
			panic("kaboom")
		}),
	)

	result, err := reg.Invoke(context.Background(), "boom", nil)
	assert.Nil(t, result)
	var execErr *domerrors.OperationExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "boom", execErr.Operation)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg := MustRegistry(
		WithMiddleware(LoggingMiddleware(logger)),
		WithHandler("ok", echo),
		WithHandler("fail", func(context.Context, []any) (any, error) {
			return nil, errors.New("nope")
		}),
	)

	_, err := reg.Invoke(context.Background(), "ok", nil)
	require.NoError(t, err)
	_, err = reg.Invoke(context.Background(), "fail", nil)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "operation completed")
	assert.Contains(t, out, "operation=ok")
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "error=nope")
}
