// Package wazero runs background modules as sandboxed WebAssembly programs.
//
// Each module is a WASI command instantiated in a shared wazero runtime. It
// talks to the host only through the "extrunner_host" import module:
//
//	post_message(packed i64)     send one JSON envelope to the host
//	poll_message() i64           receive the next envelope, 0 when none
//	log_message(packed i64)      emit a log record (log.LogMessageWire)
//
// Packed values carry a guest pointer in the upper 32 bits and a length in
// the lower 32 bits. The guest exports "allocate(size i32) i32" so the host
// can copy envelopes into its memory. Guests written in Go use the wasmguest
// package, which implements this ABI.
//
// # Basic Usage
//
//	factory, err := wazero.NewFactory(ctx, wazero.WithMemoryLimitPages(256))
//	if err != nil {
//	    return err
//	}
//	defer factory.Close(ctx)
//
//	ext, err := extension.New(ref,
//	    extension.WithLoader(loader.NewCDN()),
//	    extension.WithFactory(factory),
//	)
package wazero
