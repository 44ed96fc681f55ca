// Package mapping evaluates compiled mapping rules.
//
// Outbound evaluation (local -> remote) applies the rule modifiers in a fixed
// order:
//
//  1. when_empty: clear, with an empty local value, clears the remote field
//  2. set returns its constant
//  3. default replaces an empty local value
//  4. values translates through the table (unmatched values fail)
//  5. otherwise the local value passes through
//
// add is applied last and independently: its items are unioned into the
// result as a list, even when step 1 cleared the primary value.
//
// Inbound evaluation (remote -> local) inverts the value table and passes
// everything else through. Rules with set are outbound-only. When the task
// already exists, a local value that maps outbound to the remote value wins
// over the inverse table.
//
// Everything here is pure.
package mapping

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/issuesync/internal/ir"
)

// ErrOutboundOnly is returned by ResolveInbound for rules carrying set.
var ErrOutboundOnly = errors.New("rule is outbound-only")

// ResolveOutbound computes the remote value for one local value.
// A Null result means "clear the remote field".
func ResolveOutbound(local ir.Value, rule ir.MappingRule) (ir.Value, error) {
	result, err := resolvePrimary(local, rule)
	if err != nil {
		return nil, err
	}
	if len(rule.Add) > 0 {
		result = unionAdd(result, rule.Add)
	}
	return result, nil
}

func resolvePrimary(local ir.Value, rule ir.MappingRule) (ir.Value, error) {
	empty := ir.IsEmpty(local)

	switch {
	case rule.ClearWhenEmpty && empty:
		return ir.Null{}, nil
	case rule.Set != nil:
		return rule.Set, nil
	case empty && rule.Default != nil:
		return rule.Default, nil
	case len(rule.Values) > 0:
		mapped, err := translate(local, rule.Values, forward, rule)
		if err != nil {
			if rule.Default != nil {
				return rule.Default, nil
			}
			return nil, err
		}
		return mapped, nil
	default:
		if local == nil {
			return ir.Null{}, nil
		}
		return local, nil
	}
}

// ResolveInbound computes the local value for one remote value.
func ResolveInbound(remote ir.Value, rule ir.MappingRule) (ir.Value, error) {
	if rule.Set != nil {
		return nil, ErrOutboundOnly
	}
	if len(rule.Values) > 0 && !ir.IsEmpty(remote) {
		return translate(remote, rule.Values, inverse, rule)
	}
	if remote == nil {
		return ir.Null{}, nil
	}
	return remote, nil
}

// Outbound maps local task fields to the remote field set. The result holds
// one entry per rule, keyed by remote field. The first untranslatable value
// fails the whole item.
func Outbound(rules []ir.MappingRule, local ir.Fields) (ir.Fields, error) {
	out := make(ir.Fields, len(rules))
	for _, rule := range rules {
		v, err := ResolveOutbound(local[rule.LocalField], rule)
		if err != nil {
			return nil, err
		}
		out[rule.RemoteField] = v
	}
	return out, nil
}

// OutboundTo is Outbound for a task already linked to an issue whose
// fields are remote. A field that is empty locally and already empty on
// the remote is left alone instead of failing its table lookup.
func OutboundTo(rules []ir.MappingRule, local, remote ir.Fields) (ir.Fields, error) {
	out := make(ir.Fields, len(rules))
	for _, rule := range rules {
		v, err := ResolveOutbound(local[rule.LocalField], rule)
		if err != nil {
			if !ir.IsEmpty(local[rule.LocalField]) || !ir.IsEmpty(remote[rule.RemoteField]) {
				return nil, err
			}
			v = ir.Null{}
			if len(rule.Add) > 0 {
				v = unionAdd(v, rule.Add)
			}
		}
		out[rule.RemoteField] = v
	}
	return out, nil
}

// Inbound maps remote issue fields to local fields. Fields that cannot be
// translated are left out of the result and reported as issues; they never
// fail the item.
func Inbound(rules []ir.MappingRule, remote ir.Fields) (ir.Fields, []ir.FieldIssue) {
	return InboundOver(rules, remote, nil)
}

// InboundOver is Inbound for an existing task with fields current. A
// current value that already maps outbound to the remote value is kept, so
// a table with several local values for one remote value does not rewrite
// the task.
func InboundOver(rules []ir.MappingRule, remote, current ir.Fields) (ir.Fields, []ir.FieldIssue) {
	out := make(ir.Fields, len(rules))
	var issues []ir.FieldIssue
	for _, rule := range rules {
		if rule.Set != nil {
			continue
		}
		if v, ok := current[rule.LocalField]; ok && !ir.IsEmpty(v) {
			if back, err := ResolveOutbound(v, rule); err == nil && ir.Equivalent(back, remote[rule.RemoteField]) {
				out[rule.LocalField] = v
				continue
			}
		}
		v, err := ResolveInbound(remote[rule.RemoteField], rule)
		if err != nil {
			issues = append(issues, ir.FieldIssue{
				Field:  rule.LocalField,
				Code:   ir.CodeOf(err),
				Reason: err.Error(),
			})
			continue
		}
		out[rule.LocalField] = v
	}
	return out, issues
}

// DiffLocal returns the entries of target whose value differs from current,
// restricted to the local fields the rules map. Empty targets become Null so
// the store clears them.
func DiffLocal(rules []ir.MappingRule, current, target ir.Fields) ir.Fields {
	keys := make([]string, 0, len(rules))
	for _, rule := range rules {
		keys = append(keys, rule.LocalField)
	}
	return diff(keys, current, target)
}

// DiffRemote is DiffLocal for remote field names.
func DiffRemote(rules []ir.MappingRule, current, target ir.Fields) ir.Fields {
	keys := make([]string, 0, len(rules))
	for _, rule := range rules {
		keys = append(keys, rule.RemoteField)
	}
	return diff(keys, current, target)
}

func diff(keys []string, current, target ir.Fields) ir.Fields {
	out := ir.Fields{}
	for _, k := range keys {
		want, ok := target[k]
		if !ok {
			continue
		}
		if ir.Equivalent(current[k], want) {
			continue
		}
		if ir.IsEmpty(want) {
			want = ir.Null{}
		}
		out[k] = want
	}
	return out
}

// Compact drops empty values. Used for creates, where there is nothing to
// clear.
func Compact(fields ir.Fields) ir.Fields {
	out := make(ir.Fields, len(fields))
	for k, v := range fields {
		if !ir.IsEmpty(v) {
			out[k] = v
		}
	}
	return out
}

type direction int

const (
	forward direction = iota
	inverse
)

// translate maps a scalar or each element of a list through the table.
func translate(v ir.Value, table []ir.ValuePair, dir direction, rule ir.MappingRule) (ir.Value, error) {
	if ir.IsEmpty(v) {
		return nil, unmapped(v, rule, dir)
	}
	if list, ok := v.(ir.List); ok {
		out := make(ir.List, 0, len(list))
		for _, item := range list {
			mapped, ok := lookupTable(item, table, dir)
			if !ok {
				return nil, unmapped(item, rule, dir)
			}
			out = append(out, mapped)
		}
		return out, nil
	}
	mapped, ok := lookupTable(v, table, dir)
	if !ok {
		return nil, unmapped(v, rule, dir)
	}
	return mapped, nil
}

// lookupTable is an exact, case-sensitive lookup. Inverse lookups return the
// first declared local value for a remote value.
func lookupTable(v ir.Value, table []ir.ValuePair, dir direction) (ir.Value, bool) {
	s, ok := v.(ir.String)
	if !ok {
		return nil, false
	}
	idx := slices.IndexFunc(table, func(p ir.ValuePair) bool {
		if dir == forward {
			return p.Local == string(s)
		}
		return p.Remote == string(s)
	})
	if idx < 0 {
		return nil, false
	}
	if dir == forward {
		return ir.String(table[idx].Remote), true
	}
	return ir.String(table[idx].Local), true
}

func unmapped(v ir.Value, rule ir.MappingRule, dir direction) error {
	field := rule.LocalField
	msg := fmt.Sprintf("local value %s has no mapping for remote field %q", quote(v), rule.RemoteField)
	if dir == inverse {
		msg = fmt.Sprintf("remote value %s of %q has no local mapping", quote(v), rule.RemoteField)
	}
	return &ir.Error{Code: ir.CodeUnmappedValue, Message: msg, Field: field}
}

func quote(v ir.Value) string {
	if s, ok := v.(ir.String); ok {
		return fmt.Sprintf("%q", string(s))
	}
	return ir.Format(v)
}

// unionAdd merges add items into base as a duplicate-free list. Existing
// items keep their order and new items follow in declaration order.
func unionAdd(base ir.Value, add []string) ir.Value {
	items := ir.Items(base)
	out := make(ir.List, 0, len(items)+len(add))
	seen := make(map[string]bool, len(items)+len(add))
	push := func(item ir.Value) {
		key := ir.Format(item)
		if _, isString := item.(ir.String); !isString {
			key = "\x00" + key
		}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, item)
	}
	for _, item := range items {
		push(item)
	}
	for _, s := range add {
		push(ir.String(s))
	}
	return out
}
