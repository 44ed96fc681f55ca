package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = List{String("a"), Int(1)}
}

func TestFieldsSortedKeys(t *testing.T) {
	fields := Fields{
		"title":    String("z"),
		"assignee": String("a"),
		"labels":   Strings("b"),
	}

	assert.Equal(t, []string{"assignee", "labels", "title"}, fields.SortedKeys())
}

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		empty bool
	}{
		{"nil", nil, true},
		{"null", Null{}, true},
		{"empty string", String(""), true},
		{"empty list", List{}, true},
		{"string", String("x"), false},
		{"zero int", Int(0), false},
		{"false", Bool(false), false},
		{"list", Strings("a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, IsEmpty(tt.value))
		})
	}
}

func TestEquivalent(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal strings", String("open"), String("open"), true},
		{"different strings", String("open"), String("Open"), false},
		{"empty forms", Null{}, String(""), true},
		{"nil and empty list", nil, List{}, true},
		{"empty vs value", nil, String("x"), false},
		{"lists ignore order", Strings("z", "x", "y"), Strings("x", "y", "z"), true},
		{"lists ignore duplicates", Strings("x", "x"), Strings("x"), true},
		{"lists differ", Strings("x"), Strings("x", "y"), false},
		{"list vs scalar", Strings("x"), String("x"), false},
		{"int vs string", Int(1), String("1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equivalent(tt.a, tt.b))
			assert.Equal(t, tt.want, Equivalent(tt.b, tt.a), "Equivalent must be symmetric")
		})
	}
}

func TestItems(t *testing.T) {
	assert.Nil(t, Items(nil))
	assert.Nil(t, Items(String("")))
	assert.Equal(t, []Value{String("x")}, Items(String("x")))
	assert.Equal(t, []Value{String("a"), String("b")}, Items(Strings("a", "b")))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny([]any{"a", json.Number("2"), true})
	require.NoError(t, err)
	assert.Equal(t, List{String("a"), Int(2), Bool(true)}, v)

	v, err = FromAny(nil)
	require.NoError(t, err)
	assert.Equal(t, Null{}, v)

	v, err = FromAny(float64(7))
	require.NoError(t, err)
	assert.Equal(t, Int(7), v)

	_, err = FromAny(1.5)
	require.Error(t, err)

	_, err = FromAny(json.Number("1.5"))
	require.Error(t, err)

	_, err = FromAny([]any{[]any{"nested"}})
	require.Error(t, err)

	_, err = FromAny(map[string]any{"a": 1})
	require.Error(t, err)
}

func TestFieldsJSONRoundTrip(t *testing.T) {
	fields := Fields{
		"title":    String("Fix login"),
		"points":   Int(9007199254740993), // > 2^53
		"labels":   Strings("bug", "auth"),
		"assignee": Null{},
	}

	data, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.Equal(t, `{"assignee":null,"labels":["bug","auth"],"points":9007199254740993,"title":"Fix login"}`, string(data))

	var decoded Fields
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, fields, decoded)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "<empty>", Format(nil))
	assert.Equal(t, "open", Format(String("open")))
	assert.Equal(t, "[a, b]", Format(Strings("a", "b")))
	assert.Equal(t, "3", Format(Int(3)))
}
