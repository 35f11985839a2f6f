// Package wireformat defines the JSON encoding of envelopes exchanged between
// the host and isolated contexts. The encoding is the contract for every
// transport that crosses a real memory boundary, and the in-memory pipe uses
// it as a structured clone so no memory is shared between the two sides.
package wireformat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/reglet-dev/extrunner/domain/entities"
)

// DefaultMaxEnvelopeSize limits the size of one encoded envelope (1MB).
// It keeps an untrusted context from forcing huge host allocations.
const DefaultMaxEnvelopeSize = 1 * 1024 * 1024

// Version is the wire format revision, bumped on incompatible changes.
const Version = 1

// Marshal encodes an envelope.
func Marshal(env entities.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Unmarshal decodes an envelope and rejects payloads without a kind.
func Unmarshal(data []byte) (entities.Envelope, error) {
	var env entities.Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return entities.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return entities.Envelope{}, fmt.Errorf("decode envelope: missing kind")
	}
	return env, nil
}

// UnmarshalLimited decodes an envelope after checking it against limit.
func UnmarshalLimited(data []byte, limit int) (entities.Envelope, error) {
	if limit > 0 && len(data) > limit {
		return entities.Envelope{}, fmt.Errorf("envelope size %d exceeds maximum %d bytes", len(data), limit)
	}
	return Unmarshal(data)
}

// Clone returns a structurally identical copy of env that shares no memory
// with it, the way a message crossing a context boundary would look.
// Numbers come back as float64 and nested objects as map[string]any.
func Clone(env entities.Envelope) (entities.Envelope, error) {
	data, err := Marshal(env)
	if err != nil {
		return entities.Envelope{}, err
	}
	return Unmarshal(data)
}

// Schema returns the JSON schema of the envelope.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&entities.Envelope{})
	schema.Title = "extrunner envelope"
	schema.Description = fmt.Sprintf("Wire format version %d", Version)

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
