// Package state implements state synchronization between the host and its
// peers: merge functions, the populate authorization policy, and the
// per-connection state slot.
package state

import (
	"context"
	"sync"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/reglet-dev/extrunner/domain/errors"
)

// MergeFunc combines the current state with an incoming one. It must be
// pure: it may run more than once for the same inputs and must not modify
// either argument.
type MergeFunc func(current, incoming entities.State) entities.State

// ShallowMerge returns a new state holding current's fields overwritten by
// incoming's top-level fields.
func ShallowMerge(current, incoming entities.State) entities.State {
	out := make(entities.State, len(current)+len(incoming))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// Policy authorizes a state pushed by a peer. It returns the state to accept,
// which may differ from incoming, and false to reject it. A nil accepted
// state with true keeps incoming unchanged.
type Policy interface {
	Authorize(current, incoming entities.State) (entities.State, bool)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(current, incoming entities.State) (entities.State, bool)

// Authorize implements Policy.
func (f PolicyFunc) Authorize(current, incoming entities.State) (entities.State, bool) {
	return f(current, incoming)
}

type allow bool

func (a allow) Authorize(_, incoming entities.State) (entities.State, bool) {
	return incoming, bool(a)
}

// Allow returns a Policy accepting (true) or rejecting (false) every push.
func Allow(ok bool) Policy {
	return allow(ok)
}

// Slot holds one connection's last-known state.
type Slot struct {
	merge  MergeFunc
	state  entities.State
	pushMu sync.Mutex
	mu     sync.RWMutex
}

// NewSlot creates a slot starting at initial. A nil merge uses ShallowMerge.
func NewSlot(initial entities.State, merge MergeFunc) *Slot {
	if merge == nil {
		merge = ShallowMerge
	}
	if initial == nil {
		initial = entities.State{}
	}
	return &Slot{merge: merge, state: initial.Clone()}
}

// Get returns a copy of the last-known state.
func (s *Slot) Get() entities.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Set replaces the last-known state.
func (s *Slot) Set(st entities.State) {
	if st == nil {
		st = entities.State{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Clone()
}

// Next computes the state a push of incoming would transmit.
func (s *Slot) Next(incoming entities.State, merge bool) entities.State {
	current := s.Get()
	if merge {
		return s.merge(current, incoming)
	}
	if incoming == nil {
		return entities.State{}
	}
	return incoming.Clone()
}

// Push computes the state to transmit, sends it, and records it as the
// last-known state only once send succeeded. Pushes on one slot are
// serialized.
func (s *Slot) Push(ctx context.Context, send func(context.Context, entities.State) error, incoming entities.State, merge bool) (entities.State, error) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	next := s.Next(incoming, merge)
	if err := send(ctx, next); err != nil {
		return nil, err
	}
	s.Set(next)
	return next.Clone(), nil
}

// Populator applies the merge function and authorization policy to states
// pushed by peers.
type Populator struct {
	merge  MergeFunc
	policy Policy
}

// Option configures a Populator.
type Option func(*Populator)

// WithMergeFunc sets the merge function.
func WithMergeFunc(fn MergeFunc) Option {
	return func(p *Populator) {
		if fn != nil {
			p.merge = fn
		}
	}
}

// WithPolicy sets the authorization policy.
func WithPolicy(policy Policy) Option {
	return func(p *Populator) {
		if policy != nil {
			p.policy = policy
		}
	}
}

// NewPopulator creates a Populator. Defaults: ShallowMerge, Allow(true).
func NewPopulator(opts ...Option) *Populator {
	p := &Populator{merge: ShallowMerge, policy: Allow(true)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accept decides what a push from ref does to current. It returns the
// state to adopt and false when the policy rejects it. A push without a
// state object is an *errors.InvalidStateError.
func (p *Populator) Accept(ref string, current entities.State, env entities.StateEnvelope) (entities.State, bool, error) {
	if env.State == nil {
		return nil, false, &errors.InvalidStateError{Ref: ref, Reason: "missing state object"}
	}

	candidate := env.State.Clone()
	if env.Options.Merge {
		candidate = p.merge(current.Clone(), candidate)
	}

	accepted, ok := p.policy.Authorize(current.Clone(), candidate)
	if !ok {
		return nil, false, nil
	}
	if accepted == nil {
		accepted = candidate
	}
	return accepted.Clone(), true, nil
}
