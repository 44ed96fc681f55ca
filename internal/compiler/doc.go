// Package compiler turns the CUE project configuration into the rule
// structures the sync engine evaluates.
//
// Compilation happens once per run, before any network or store access.
// Shorthand mappings are expanded into identity rules and every key, type
// and cross-field constraint is validated up front, so a malformed mapping
// never reaches the reconciler. All failures are *CompileError values,
// which carry the CUE source position and report CONFIG_ERROR.
package compiler
