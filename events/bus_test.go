package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type ping struct{ n int }

func TestBus_SubscribeEmit(t *testing.T) {
	var bus Bus[ping]
	var got []int
	bus.Subscribe(func(p ping) { got = append(got, p.n) })
	bus.Subscribe(func(p ping) { got = append(got, p.n*10) })

	bus.Emit(ping{n: 1})
	bus.Emit(ping{n: 2})
	assert.Equal(t, []int{1, 10, 2, 20}, got)
	assert.Equal(t, 2, bus.Len())
}

func TestBus_Unsubscribe(t *testing.T) {
	var bus Bus[ping]
	count := 0
	unsub := bus.Subscribe(func(ping) { count++ })
	bus.Emit(ping{})
	unsub()
	unsub()
	bus.Emit(ping{})
	assert.Equal(t, 1, count)
	assert.Zero(t, bus.Len())
}

func TestBus_UnsubscribeDuringEmit(t *testing.T) {
	var bus Bus[ping]
	var unsub func()
	calls := 0
	unsub = bus.Subscribe(func(ping) {
		calls++
		unsub()
	})
	second := 0
	bus.Subscribe(func(ping) { second++ })

	bus.Emit(ping{})
	bus.Emit(ping{})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, second)
}

func TestBus_Clear(t *testing.T) {
	var bus Bus[ping]
	bus.Subscribe(func(ping) { t.Fatal("cleared subscriber called") })
	bus.Clear()
	bus.Emit(ping{})
}

func TestBus_ConcurrentEmit(t *testing.T) {
	var bus Bus[ping]
	var mu sync.Mutex
	total := 0
	bus.Subscribe(func(p ping) {
		mu.Lock()
		total += p.n
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(ping{n: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, total)
}
