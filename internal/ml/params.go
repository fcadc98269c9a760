package ml

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodeParams applies a key/value parameter map onto a typed params struct.
// Unknown keys and ill-typed values are rejected.
func DecodeParams(kind string, params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s params: %w", kind, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s params: %w", kind, err)
	}
	return nil
}
