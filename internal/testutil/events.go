// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Recorder collects the events handed to Record. The zero value is ready to
// use; pass rec.Record to a Subscribe method.
type Recorder[E any] struct {
	events []E
	mu     sync.Mutex
}

// Record appends ev.
func (r *Recorder[E]) Record(ev E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// All returns a copy of every recorded event in order.
func (r *Recorder[E]) All() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]E(nil), r.events...)
}

// Reset drops everything recorded so far.
func (r *Recorder[E]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// OfType returns the recorded events of concrete type T, in order.
func OfType[T any, E any](r *Recorder[E]) []T {
	var out []T
	for _, ev := range r.All() {
		if t, ok := any(ev).(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// WaitFor fails t unless an event of type T is recorded within timeout and
// returns the first one.
func WaitFor[T any, E any](t testing.TB, r *Recorder[E], timeout time.Duration) T {
	t.Helper()
	var found T
	require.Eventually(t, func() bool {
		evs := OfType[T](r)
		if len(evs) == 0 {
			return false
		}
		found = evs[0]
		return true
	}, timeout, 5*time.Millisecond, "no %T recorded", found)
	return found
}
