//go:build wasip1

// Package abi manages the guest side of linear memory shared with the host.
//
// Messages cross the boundary as a packed i64: pointer in the high 32 bits,
// length in the low 32 bits. Buffers handed to the host are pinned here until
// the guest releases them.
package abi

import (
	"fmt"
	"sync"
	"unsafe"
)

// PtrHighBits is the shift applied to the pointer half of a packed value.
const PtrHighBits = 32

// Budget caps the bytes pinned at any one time.
const Budget = 64 * 1024 * 1024

var pins = struct {
	bufs  map[uint32][]byte
	total int
	sync.Mutex
}{bufs: make(map[uint32][]byte)}

// allocate is called by the host before it writes a message into guest memory.
//
//go:wasmexport allocate
func allocate(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	pins.Lock()
	defer pins.Unlock()
	if pins.total+int(size) > Budget {
		panic(fmt.Sprintf("abi: pinning %d bytes would exceed budget of %d (pinned %d)", size, Budget, pins.total))
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0]))) //nolint:gosec // G103,G115: wasm32 linear memory address
	pins.bufs[ptr] = buf
	pins.total += len(buf)
	return ptr
}

//go:wasmexport deallocate
func deallocate(ptr uint32, _ uint32) {
	release(ptr)
}

func release(ptr uint32) {
	pins.Lock()
	defer pins.Unlock()
	buf, ok := pins.bufs[ptr]
	if !ok {
		return
	}
	delete(pins.bufs, ptr)
	pins.total -= len(buf)
}

// Stats reports the number of pinned buffers and their total size.
func Stats() (count, bytes int) {
	pins.Lock()
	defer pins.Unlock()
	return len(pins.bufs), pins.total
}

// Reset unpins everything.
func Reset() {
	pins.Lock()
	defer pins.Unlock()
	clear(pins.bufs)
	pins.total = 0
}

// Pin copies data into pinned memory and returns its packed location.
// The caller releases it with Free once the host has read it.
func Pin(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	ptr := allocate(uint32(len(data))) //nolint:gosec // G115: bounded by Budget
	pins.Lock()
	copy(pins.bufs[ptr], data)
	pins.Unlock()
	return Pack(ptr, uint32(len(data))) //nolint:gosec // G115: bounded by Budget
}

// Take copies the message the host wrote at packed and unpins it.
func Take(packed uint64) []byte {
	ptr, length := Unpack(packed)
	if ptr == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length) //nolint:gosec // G103: wasm32 linear memory address
	out := append([]byte(nil), src...)
	release(ptr)
	return out
}

// Free unpins the buffer at packed.
func Free(packed uint64) {
	if ptr, _ := Unpack(packed); ptr != 0 {
		release(ptr)
	}
}

// Pack combines ptr and length. A null pointer with a length is invalid.
func Pack(ptr, length uint32) uint64 {
	if ptr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: null pointer with length %d", length))
	}
	return uint64(ptr)<<PtrHighBits | uint64(length)
}

// Unpack splits a packed value into ptr and length.
func Unpack(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> PtrHighBits) //nolint:gosec // G115: upper half
	length = uint32(packed)             //nolint:gosec // G115: lower half
	if ptr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: null pointer with length %d", length))
	}
	return ptr, length
}
