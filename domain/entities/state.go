package entities

// State is a module state snapshot. At the protocol boundary it is always a
// complete object, never a partial patch.
type State map[string]any

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// StateOptions travel with every state push.
type StateOptions struct {
	// Merge asks the receiver to merge the state into what it holds.
	Merge bool `json:"merge"`
	// Populate asks the host to broadcast the state to sibling instances.
	Populate bool `json:"populate"`
}

// DefaultStateOptions returns merge and populate enabled.
func DefaultStateOptions() StateOptions {
	return StateOptions{Merge: true, Populate: true}
}

// StateEnvelope is exchanged on every state push.
type StateEnvelope struct {
	State   State        `json:"state"`
	Options StateOptions `json:"options"`
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case State:
		return t.Clone()
	case map[string]any:
		return State(t).Clone().asMap()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func (s State) asMap() map[string]any {
	return map[string]any(s)
}
