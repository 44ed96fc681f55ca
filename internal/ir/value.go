package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface representing a single tracker field value.
// Only Null, String, Int, Bool and List implement it.
// There is no float type: story points, estimates and the like are integers.
type Value interface {
	fieldValue() // Sealed - only these types implement it
}

// Null is an explicit absence. Inside an update it means "clear the field".
type Null struct{}

func (Null) fieldValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a text value (titles, states, assignees).
type String string

func (String) fieldValue() {}

// Int is an integer value. Always int64, never float64.
type Int int64

func (Int) fieldValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) fieldValue() {}

// List is a list-typed value such as labels or tags.
type List []Value

func (List) fieldValue() {}

// Strings builds a List of String values.
func Strings(items ...string) List {
	list := make(List, len(items))
	for i, s := range items {
		list[i] = String(s)
	}
	return list
}

// Fields maps field names to values, for one task or one remote issue.
// Use SortedKeys() for deterministic iteration.
type Fields map[string]Value

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy. Values are immutable so this is enough.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785. Go's default string comparison uses UTF-8,
// which orders supplementary-plane characters differently.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// IsEmpty reports whether v carries no value: nil, Null, "" or an empty List.
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case String:
		return val == ""
	case List:
		return len(val) == 0
	default:
		return false
	}
}

// Items returns v as a list of values. Empty values yield nil and
// scalars yield a one-element slice.
func Items(v Value) []Value {
	if IsEmpty(v) {
		return nil
	}
	if list, ok := v.(List); ok {
		return list
	}
	return []Value{v}
}

// Equivalent reports whether two values are the same for reconciliation.
// All empty values are equivalent to each other. Lists are compared as sets
// because trackers do not preserve label order.
func Equivalent(a, b Value) bool {
	if IsEmpty(a) || IsEmpty(b) {
		return IsEmpty(a) && IsEmpty(b)
	}
	la, aList := a.(List)
	lb, bList := b.(List)
	if aList || bList {
		if !aList || !bList {
			return false
		}
		return slices.Equal(setKeys(la), setKeys(lb))
	}
	ca, errA := MarshalCanonical(a)
	cb, errB := MarshalCanonical(b)
	return errA == nil && errB == nil && bytes.Equal(ca, cb)
}

// setKeys returns the sorted, de-duplicated canonical encodings of list items.
func setKeys(list List) []string {
	keys := make([]string, 0, len(list))
	for _, item := range list {
		data, err := MarshalCanonical(item)
		if err != nil {
			continue
		}
		keys = append(keys, string(data))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// Format renders a value for logs and human-readable output.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "<empty>"
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", val)
	case Bool:
		return fmt.Sprintf("%t", val)
	case List:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Format(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FromAny converts a decoded JSON/YAML value to a Value.
// nil becomes Null. Floats are rejected unless they hold an integral value
// within int64 range (JSON decoders without UseNumber produce those).
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are forbidden in field values: %s", val)
		}
		return Int(n), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are forbidden in field values: %v", val)
		}
		return Int(int64(val)), nil
	case []string:
		return Strings(val...), nil
	case []any:
		list := make(List, 0, len(val))
		for i, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			if _, isList := item.(List); isList {
				return nil, fmt.Errorf("[%d]: nested lists are not supported", i)
			}
			list = append(list, item)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported field value type: %T", v)
	}
}

// ToAny converts a Value to plain Go values for JSON payloads.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case List:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToAny(item)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler with sorted keys. Null is written as null.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for storage.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := json.Marshal(ToAny(f[k]))
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler for Fields.
// Numbers are decoded via json.Number so large integers keep their precision.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*f = make(Fields, len(raw))
	for k, v := range raw {
		val, err := FromAny(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		(*f)[k] = val
	}
	return nil
}
