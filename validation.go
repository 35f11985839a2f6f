package extrunner

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level singleton; validator caches struct metadata.
var validate = validator.New()

// DecodeState decodes a state into a struct and validates it with its
// `validate` tags.
func DecodeState(st State, target any) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal state into struct: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("state validation failed: %w", err)
	}
	return nil
}

// EncodeState converts a struct into a State through its JSON form.
func EncodeState(v any) (State, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("value does not encode to an object: %w", err)
	}
	return st, nil
}
