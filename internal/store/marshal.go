package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/issuesync/internal/ir"
)

// marshalFields converts task fields to canonical JSON TEXT for storage.
// Empty values are not stored; an absent key and an empty value are the
// same thing to the reconciler.
func marshalFields(fields ir.Fields) (string, error) {
	stored := make(ir.Fields, len(fields))
	for k, v := range fields {
		if !ir.IsEmpty(v) {
			stored[k] = v
		}
	}
	data, err := ir.MarshalCanonical(stored)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses canonical JSON TEXT to Fields.
// Uses ir.Fields.UnmarshalJSON which decodes numbers via json.Number
// to avoid float64 precision loss for values > 2^53.
func unmarshalFields(data string) (ir.Fields, error) {
	if data == "" || data == "{}" {
		return ir.Fields{}, nil
	}
	var fields ir.Fields
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}
