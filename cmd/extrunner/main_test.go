package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extrunner"
	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/guest"
	"github.com/reglet-dev/extrunner/infrastructure/config"
	"github.com/reglet-dev/extrunner/infrastructure/memory"
	"github.com/reglet-dev/extrunner/provider"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, extrunner.Version)
	assert.Contains(t, out, "protocol 1")
}

func TestSchemaCmd(t *testing.T) {
	out, _, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Contains(t, out, "auth_token")
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "run", "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("log_format = \"xml\"\n"), 0o600))
	_, _, err = execute(t, "run", "--config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("log_format: text\n"), 0o600))
	_, _, err = execute(t, "run", "--config", good, "--log-level", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestRunCmd_LogLevelFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extrunner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  log_level: verbose\n"), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	var buf bytes.Buffer

	logger, err := newLogger(&buf, &globalFlags{}, cfg)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug), "config log_level applies without a flag")

	logger, err = newLogger(&buf, &globalFlags{logLevel: "quiet"}, cfg)
	require.NoError(t, err)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo), "flag overrides config")
	assert.True(t, logger.Enabled(ctx, slog.LevelError))

	logger, err = newLogger(&buf, &globalFlags{}, config.Default())
	require.NoError(t, err)
	assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Enabled(ctx, slog.LevelDebug))

	path = filepath.Join(t.TempDir(), "chatty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  log_level: verbose\nlog_format: json\n"), 0o600))
	cfg, err = config.Load(path)
	require.NoError(t, err)
	buf.Reset()
	logger, err = newLogger(&buf, &globalFlags{}, cfg)
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

var counterRef = entities.ModuleRef{Type: entities.OriginGitHub, Name: "acme/counter", Version: "1.2.0"}

func testConfig() config.File {
	cfg := config.Default()
	cfg.Host = entities.NewConfig(
		entities.WithConnectionTimeout(time.Second),
		entities.WithOperationTimeout(time.Second),
	)
	cfg.Extensions = []config.Extension{{
		Type:    counterRef.Type,
		Name:    counterRef.Name,
		Version: counterRef.Version,
		Launch:  []string{"main.wasm", "./main.wasm"},
	}}
	return cfg
}

func TestLaunch(t *testing.T) {
	rt := memory.NewRuntime()
	rt.AddFile(counterRef, "package.json", []byte(`{"name":"counter","version":"1.2.0","main":"main.wasm"}`))

	pongs := make(chan any, 2)
	rt.Publish(counterRef, "main.wasm", []byte("wasm"), memory.Module{
		Main: func(ctx context.Context, a *guest.Adapter) error {
			res, err := a.Execute(ctx, "ping")
			if err != nil {
				return err
			}
			pongs <- res
			_, err = a.Execute(ctx, "log", "hello")
			return err
		},
	})

	cfg := testConfig()
	logger := slog.New(slog.DiscardHandler)
	p, err := provider.New(
		provider.WithConfig(cfg.Host),
		provider.WithLogger(logger),
		provider.WithLoader(rt.Loader),
		provider.WithFactory(rt.Factory),
	)
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	loaded := make(chan string, 1)
	p.Subscribe(func(ev provider.Event) {
		if e, ok := ev.(provider.ExtensionLoadEvent); ok {
			loaded <- e.Extension.ID()
		}
	})
	p.Subscribe(logEvents(logger))

	require.NoError(t, launch(context.Background(), p, cfg, hostOperations(logger)))

	ext, ok := p.GetExtension(counterRef.ID())
	require.True(t, ok)
	assert.Len(t, ext.All(), 2)
	assert.Equal(t, []string{"main.wasm"}, ext.Paths())

	for range 2 {
		select {
		case res := <-pongs:
			assert.Equal(t, "pong", res)
		case <-time.After(time.Second):
			t.Fatal("module did not reach the host")
		}
	}
	assert.Equal(t, counterRef.ID(), <-loaded)
}

func TestLaunch_MissingModule(t *testing.T) {
	rt := memory.NewRuntime()
	rt.AddFile(counterRef, "package.json", []byte(`{"name":"counter","version":"1.2.0"}`))

	p, err := provider.New(provider.WithLoader(rt.Loader), provider.WithFactory(rt.Factory))
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	err = launch(context.Background(), p, testConfig(), hostOperations(slog.New(slog.DiscardHandler)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main.wasm")
}

func TestLaunch_MissingPackage(t *testing.T) {
	rt := memory.NewRuntime()
	p, err := provider.New(provider.WithLoader(rt.Loader), provider.WithFactory(rt.Factory))
	require.NoError(t, err)
	defer p.Destroy(context.Background())

	err = launch(context.Background(), p, testConfig(), hostOperations(slog.New(slog.DiscardHandler)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github/acme/counter")
}

func TestRun_StopsOnCancel(t *testing.T) {
	rt := memory.NewRuntime()
	cfg := config.Default()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, slog.New(slog.DiscardHandler), rt.Loader, rt.Factory) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
