package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero/api"
)

// packPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: Packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: Packed format stores 32-bit values
	return ptr, length
}

// readGuest copies the bytes a packed argument points to out of guest memory.
func readGuest(mod api.Module, packed uint64, limit uint32) ([]byte, error) {
	ptr, length := unpackPtrLen(packed)
	if length > limit {
		return nil, fmt.Errorf("message size %d exceeds maximum %d bytes", length, limit)
	}
	view, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("read of %d bytes at 0x%x is out of guest memory", length, ptr)
	}
	return append([]byte(nil), view...), nil
}

// writeGuest allocates memory in the guest and copies data into it.
// Returns packed ptr+len or 0 on failure.
func writeGuest(ctx context.Context, mod api.Module, data []byte) uint64 {
	allocateFn := mod.ExportedFunction("allocate")
	if allocateFn == nil {
		slog.ErrorContext(ctx, "wazero: guest module missing 'allocate' export", "module", mod.Name())
		return 0
	}

	results, err := allocateFn.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		slog.ErrorContext(ctx, "wazero: failed to call guest allocate", "module", mod.Name(), "error", err)
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit

	if !mod.Memory().Write(ptr, data) {
		slog.ErrorContext(ctx, "wazero: failed to write message to guest memory", "module", mod.Name())
		return 0
	}
	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: Data length is bounded by config
}
