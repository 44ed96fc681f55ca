package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/ir"
)

func compileMappingSource(t *testing.T, src string) ([]ir.MappingRule, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("config.cue"))
	require.NoError(t, v.Err())
	return CompileMapping(v.LookupPath(cue.ParsePath("mapping")))
}

func TestCompileMappingShorthand(t *testing.T) {
	rules, err := compileMappingSource(t, `mapping: {title: "summary", body: "description"}`)

	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, ir.MappingRule{LocalField: "title", RemoteField: "summary"}, rules[0])
	assert.Equal(t, ir.MappingRule{LocalField: "body", RemoteField: "description"}, rules[1])
	assert.True(t, rules[0].IsIdentity())
}

func TestCompileMappingLongForm(t *testing.T) {
	rules, err := compileMappingSource(t, `
		mapping: {
			status: {
				field: "state"
				values: {Done: "closed", Todo: "open", "In Progress": "open"}
				default: "Todo"
			}
			tags: {field: "labels", add: ["x", "y"], when_empty: "clear"}
			kind: {field: "issuetype", set: "Task"}
			points: {field: "story_points", default: 0}
			triaged: {field: "triaged", set: true}
			components: {field: "components", default: ["core"]}
		}
	`)

	require.NoError(t, err)
	require.Len(t, rules, 6)

	status := rules[0]
	assert.Equal(t, "status", status.LocalField)
	assert.Equal(t, "state", status.RemoteField)
	assert.Equal(t, []ir.ValuePair{
		{Local: "Done", Remote: "closed"},
		{Local: "Todo", Remote: "open"},
		{Local: "In Progress", Remote: "open"},
	}, status.Values, "table keeps declaration order")
	assert.Equal(t, ir.String("Todo"), status.Default)
	assert.Nil(t, status.Set)

	tags := rules[1]
	assert.Equal(t, []string{"x", "y"}, tags.Add)
	assert.True(t, tags.ClearWhenEmpty)

	assert.Equal(t, ir.String("Task"), rules[2].Set)
	assert.Equal(t, ir.Int(0), rules[3].Default)
	assert.Equal(t, ir.Bool(true), rules[4].Set)
	assert.Equal(t, ir.Strings("core"), rules[5].Default)
}

func TestCompileMappingPreservesDeclarationOrder(t *testing.T) {
	rules, err := compileMappingSource(t, `mapping: {zeta: "z", alpha: "a", mid: "m"}`)

	require.NoError(t, err)
	var order []string
	for _, r := range rules {
		order = append(order, r.LocalField)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, order)
}

func TestCompileMappingErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		field   string
		message string
	}{
		{
			name:    "unknown key",
			src:     `mapping: {status: {field: "state", value: {a: "b"}}}`,
			field:   "mapping.status.value",
			message: "unknown mapping key",
		},
		{
			name:    "missing field",
			src:     `mapping: {status: {values: {a: "b"}}}`,
			field:   "mapping.status.field",
			message: "field is required",
		},
		{
			name:    "float default",
			src:     `mapping: {points: {field: "sp", default: 1.5}}`,
			field:   "mapping.points.default",
			message: "floats",
		},
		{
			name:    "non-string table value",
			src:     `mapping: {status: {field: "state", values: {a: 1}}}`,
			field:   "mapping.status.values.a",
			message: "strings",
		},
		{
			name:    "empty table",
			src:     `mapping: {status: {field: "state", values: {}}}`,
			field:   "mapping.status.values",
			message: "must not be empty",
		},
		{
			name:    "bad when_empty",
			src:     `mapping: {tags: {field: "labels", when_empty: "keep"}}`,
			field:   "mapping.tags.when_empty",
			message: "clear",
		},
		{
			name:    "add not a list",
			src:     `mapping: {tags: {field: "labels", add: "x"}}`,
			field:   "mapping.tags.add",
			message: "list of strings",
		},
		{
			name:    "add with non-string item",
			src:     `mapping: {tags: {field: "labels", add: ["x", 2]}}`,
			field:   "mapping.tags.add[1]",
			message: "strings",
		},
		{
			name:    "duplicate remote field",
			src:     `mapping: {title: "summary", name: {field: "summary"}}`,
			field:   "mapping.name",
			message: "already mapped",
		},
		{
			name:    "rule of wrong type",
			src:     `mapping: {title: 3}`,
			field:   "mapping.title",
			message: "remote field name",
		},
		{
			name:    "empty mapping",
			src:     `mapping: {}`,
			field:   "mapping",
			message: "at least one",
		},
		{
			name:    "mapping not a struct",
			src:     `mapping: ["title"]`,
			field:   "mapping",
			message: "must be a struct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileMappingSource(t, tt.src)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "expected *CompileError, got %T", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Contains(t, ce.Message, tt.message)
			assert.Equal(t, ir.CodeConfig, ir.CodeOf(err))
		})
	}
}

func TestCompileErrorIncludesPosition(t *testing.T) {
	_, err := compileMappingSource(t, "mapping: {\n\tstatus: {field: \"state\", bogus: 1}\n}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.cue:2:")
}
