//go:build wasip1

package wasmguest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/reglet-dev/extrunner/guest"
	"github.com/reglet-dev/extrunner/internal/abi"
	hostlog "github.com/reglet-dev/extrunner/log"
	"github.com/reglet-dev/extrunner/operations"
)

//go:wasmimport extrunner_host post_message
func hostPostMessage(packed uint64)

//go:wasmimport extrunner_host poll_message
func hostPollMessage() uint64

//go:wasmimport extrunner_host log_message
func hostLogMessage(packed uint64)

func post(data []byte) {
	packed := abi.Pin(data)
	hostPostMessage(packed)
	abi.Free(packed)
}

func poll() []byte {
	return abi.Take(hostPollMessage())
}

func sink(msg hostlog.LogMessageWire) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	packed := abi.Pin(data)
	hostLogMessage(packed)
	abi.Free(packed)
	return nil
}

// NewHostChannel returns a Channel bound to the host imports.
func NewHostChannel(opts ...ChannelOption) *Channel {
	return NewChannel(post, poll, opts...)
}

// Logger returns a logger whose records are replayed by the host.
func Logger(level slog.Level) *slog.Logger {
	return slog.New(hostlog.NewHandler(sink, hostlog.WithLevel(level)))
}

// Run serves ops over the host channel until the host destroys the module.
// The adapter logs through Logger unless opts set another logger.
func Run(ops *operations.Registry, main Main, opts ...guest.Option) error {
	logger := Logger(slog.LevelInfo)
	slog.SetDefault(logger)
	opts = append([]guest.Option{guest.WithLogger(logger)}, opts...)
	return Serve(context.Background(), NewHostChannel(), ops, main, opts...)
}
