package entities

// LifecycleState is the handshake state of a connection.
type LifecycleState int

const (
	LifecycleCreated LifecycleState = iota
	LifecycleAwaitingHandshake
	LifecycleReady
	LifecycleDestroyed
	LifecycleFailed
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleCreated:
		return "CREATED"
	case LifecycleAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case LifecycleReady:
		return "READY"
	case LifecycleDestroyed:
		return "DESTROYED"
	case LifecycleFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s LifecycleState) Terminal() bool {
	return s == LifecycleDestroyed || s == LifecycleFailed
}
