package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/issuesync/internal/ir"
)

// ruleKeys are the keys accepted in the long form of a mapping rule.
var ruleKeys = map[string]bool{
	"field":      true,
	"values":     true,
	"set":        true,
	"default":    true,
	"add":        true,
	"when_empty": true,
}

// CompileMapping compiles a CUE mapping struct into an ordered rule list.
//
// Each field of the struct names a local field. Its value is either a string
// (shorthand for an identity rule onto that remote field) or a struct with
// the long-form keys:
//
//	mapping: {
//		title:  "summary"
//		status: {field: "status", values: {todo: "To Do", done: "Done"}}
//		tags:   {field: "labels", add: ["synced"], when_empty: "clear"}
//	}
//
// Rule order is CUE declaration order. Compilation fails on the first
// unknown key, wrong type, float, or duplicated local or remote field.
func CompileMapping(v cue.Value) ([]ir.MappingRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("mapping", err)
	}
	if v.Kind() != cue.StructKind {
		return nil, &CompileError{
			Field:   "mapping",
			Message: "mapping must be a struct of local field to rule",
			Pos:     v.Pos(),
		}
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError("mapping", err)
	}

	var rules []ir.MappingRule
	remoteOwners := make(map[string]string)
	seenLocal := make(map[string]bool)

	for iter.Next() {
		local := labelName(iter.Label())
		field := "mapping." + local

		if seenLocal[local] {
			return nil, &CompileError{
				Field:   field,
				Message: "duplicate local field",
				Pos:     iter.Value().Pos(),
			}
		}
		seenLocal[local] = true

		rule, err := compileRule(field, local, iter.Value())
		if err != nil {
			return nil, err
		}

		if owner, dup := remoteOwners[rule.RemoteField]; dup {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("remote field %q is already mapped from %q", rule.RemoteField, owner),
				Pos:     iter.Value().Pos(),
			}
		}
		remoteOwners[rule.RemoteField] = local

		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return nil, &CompileError{
			Field:   "mapping",
			Message: "at least one field mapping is required",
			Pos:     v.Pos(),
		}
	}

	return rules, nil
}

// compileRule compiles one local field's rule, shorthand or long form.
func compileRule(field, local string, v cue.Value) (ir.MappingRule, error) {
	rule := ir.MappingRule{LocalField: local}

	switch v.Kind() {
	case cue.StringKind:
		remote, _ := v.String()
		if remote == "" {
			return rule, &CompileError{Field: field, Message: "remote field name must not be empty", Pos: v.Pos()}
		}
		rule.RemoteField = remote
		return rule, nil
	case cue.StructKind:
	default:
		return rule, &CompileError{
			Field:   field,
			Message: "rule must be a remote field name or a struct with a \"field\" key",
			Pos:     v.Pos(),
		}
	}

	iter, err := v.Fields()
	if err != nil {
		return rule, formatCUEError(field, err)
	}
	for iter.Next() {
		key := labelName(iter.Label())
		if !ruleKeys[key] {
			return rule, &CompileError{
				Field:   field + "." + key,
				Message: fmt.Sprintf("unknown mapping key %q", key),
				Pos:     iter.Value().Pos(),
			}
		}
	}

	fieldVal := v.LookupPath(cue.ParsePath("field"))
	if !fieldVal.Exists() {
		return rule, &CompileError{Field: field + ".field", Message: "field is required", Pos: v.Pos()}
	}
	remote, err := fieldVal.String()
	if err != nil || remote == "" {
		return rule, &CompileError{Field: field + ".field", Message: "field must be a non-empty string", Pos: fieldVal.Pos()}
	}
	rule.RemoteField = remote

	if valuesVal := lookup(v, "values"); valuesVal.Exists() {
		rule.Values, err = compileValueTable(field+".values", valuesVal)
		if err != nil {
			return rule, err
		}
	}

	if setVal := lookup(v, "set"); setVal.Exists() {
		rule.Set, err = compileLiteral(field+".set", setVal)
		if err != nil {
			return rule, err
		}
	}

	if defaultVal := lookup(v, "default"); defaultVal.Exists() {
		rule.Default, err = compileLiteral(field+".default", defaultVal)
		if err != nil {
			return rule, err
		}
	}

	if addVal := lookup(v, "add"); addVal.Exists() {
		rule.Add, err = compileStringList(field+".add", addVal)
		if err != nil {
			return rule, err
		}
	}

	if emptyVal := lookup(v, "when_empty"); emptyVal.Exists() {
		mode, err := emptyVal.String()
		if err != nil || mode != ir.WhenEmptyClear {
			return rule, &CompileError{
				Field:   field + ".when_empty",
				Message: fmt.Sprintf("when_empty must be %q", ir.WhenEmptyClear),
				Pos:     emptyVal.Pos(),
			}
		}
		rule.ClearWhenEmpty = true
	}

	return rule, nil
}

// compileValueTable reads a local->remote string table in declaration order.
func compileValueTable(field string, v cue.Value) ([]ir.ValuePair, error) {
	if v.Kind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "values must be a struct of local to remote strings", Pos: v.Pos()}
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(field, err)
	}

	var pairs []ir.ValuePair
	for iter.Next() {
		local := labelName(iter.Label())
		remote, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   field + "." + local,
				Message: "table values must be strings",
				Pos:     iter.Value().Pos(),
			}
		}
		pairs = append(pairs, ir.ValuePair{Local: local, Remote: remote})
	}
	if len(pairs) == 0 {
		return nil, &CompileError{Field: field, Message: "values table must not be empty", Pos: v.Pos()}
	}
	return pairs, nil
}

// compileLiteral converts a set/default constant. Floats are rejected.
func compileLiteral(field string, v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, _ := v.String()
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "integer out of range", Pos: v.Pos()}
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, _ := v.Bool()
		return ir.Bool(b), nil
	case cue.ListKind:
		items, err := compileStringList(field, v)
		if err != nil {
			return nil, err
		}
		return ir.Strings(items...), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: field, Message: "floats are not allowed", Pos: v.Pos()}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: "must be a concrete string, int, bool or list of strings",
			Pos:     v.Pos(),
		}
	}
}

func compileStringList(field string, v cue.Value) ([]string, error) {
	if v.Kind() != cue.ListKind {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: v.Pos()}
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	var items []string
	for i := 0; iter.Next(); i++ {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: "list items must be strings",
				Pos:     iter.Value().Pos(),
			}
		}
		items = append(items, s)
	}
	return items, nil
}

func lookup(v cue.Value, key string) cue.Value {
	return v.LookupPath(cue.MakePath(cue.Str(key)))
}

// labelName strips the quotes CUE keeps on labels that are not identifiers,
// e.g. "In Progress".
func labelName(label string) string {
	if strings.HasPrefix(label, `"`) {
		if s, err := strconv.Unquote(label); err == nil {
			return s
		}
		return strings.Trim(label, `"`)
	}
	return label
}
