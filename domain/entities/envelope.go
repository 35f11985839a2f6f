package entities

// Kind discriminates envelopes on the channel.
type Kind string

const (
	KindMeta            Kind = "meta"
	KindReady           Kind = "ready"
	KindImportError     Kind = "import_error"
	KindOperation       Kind = "operation"
	KindOperationResult Kind = "operation:result"
	KindOperationError  Kind = "operation:error"
	// KindStatePush carries state from the host to a peer.
	KindStatePush Kind = "state_push"
	// KindPushState carries state from a peer to the host (populate).
	KindPushState Kind = "push_state"
	KindDestroy   Kind = "destroy"
)

// IsHandshake reports whether envelopes of this kind are exempt from the
// per-envelope authentication check.
func (k Kind) IsHandshake() bool {
	return k == KindMeta || k == KindReady || k == KindImportError
}

// Envelope is the tagged message exchanged over a transport.
// Which fields are set depends on Kind:
//
//	meta             Meta
//	ready            AuthToken
//	operation        Operation, Args, ReplyTo
//	operation:result Payload, ReplyTo
//	operation:error  Error, ReplyTo
//	state_push       State, Options
//	push_state       State, Options
//	destroy          (none)
type Envelope struct {
	Meta      *Meta         `json:"meta,omitempty"`
	Options   *StateOptions `json:"options,omitempty"`
	Error     *ErrorDetail  `json:"error,omitempty"`
	Payload   any           `json:"payload,omitempty"`
	State     State         `json:"state"`
	Kind      Kind          `json:"kind"`
	AuthToken string        `json:"auth_token,omitempty"`
	// Origin is stamped by the transport, never trusted from the sender.
	Origin    string `json:"origin,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Operation string `json:"operation,omitempty"`
	Args      []any  `json:"args,omitempty"`
}

// StateEnvelope extracts the state part of a state envelope.
// Missing options fall back to DefaultStateOptions.
func (e Envelope) StateEnvelope() StateEnvelope {
	opts := DefaultStateOptions()
	if e.Options != nil {
		opts = *e.Options
	}
	return StateEnvelope{State: e.State, Options: opts}
}
