//go:build wasip1

package abi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack(t *testing.T) {
	tests := []struct {
		name   string
		ptr    uint32
		length uint32
	}{
		{"empty", 0, 0},
		{"typical", 0x00012000, 512},
		{"max", 0xFFFFFFFF, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := Pack(tt.ptr, tt.length)
			assert.Equal(t, uint64(tt.ptr)<<PtrHighBits|uint64(tt.length), packed)
			ptr, length := Unpack(packed)
			assert.Equal(t, tt.ptr, ptr)
			assert.Equal(t, tt.length, length)
		})
	}
}

func TestPack_NullPointer(t *testing.T) {
	assert.Panics(t, func() { Pack(0, 8) })
	assert.Panics(t, func() { Unpack(8) })
}

func TestPinTake(t *testing.T) {
	Reset()
	defer Reset()

	packed := Pin([]byte(`{"kind":"ready"}`))
	count, total := Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, 16, total)

	assert.Equal(t, `{"kind":"ready"}`, string(Take(packed)))
	count, total = Stats()
	assert.Zero(t, count)
	assert.Zero(t, total)

	assert.Nil(t, Take(0))
	assert.Zero(t, Pin(nil))
}

func TestFree(t *testing.T) {
	Reset()
	defer Reset()

	packed := Pin([]byte("abc"))
	Free(packed)
	Free(packed)
	Free(0)
	count, _ := Stats()
	assert.Zero(t, count)
}

func TestAllocate_Budget(t *testing.T) {
	Reset()
	defer Reset()

	require.Zero(t, allocate(0))
	assert.Panics(t, func() { allocate(Budget + 1) })
}

func TestAllocate_Concurrent(t *testing.T) {
	Reset()
	defer Reset()

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			for range 50 {
				deallocate(allocate(64), 64)
			}
		})
	}
	wg.Wait()
	count, total := Stats()
	assert.Zero(t, count)
	assert.Zero(t, total)
}
