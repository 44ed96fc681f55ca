package compiler

import (
	"fmt"
	"regexp"

	"cuelang.org/go/cue"

	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
)

var (
	jiraProjectPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)
	githubRepoPattern  = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+$`)
)

// remoteKeys are the keys accepted in a remotes.<name> block.
var remoteKeys = map[string]bool{
	"provider":     true,
	"project":      true,
	"repo":         true,
	"auth_profile": true,
	"filter":       true,
	"mapping":      true,
}

// CompileRemote compiles one remotes.<name> block into a RemoteConfig.
//
//	remotes: jira: {
//		provider:     "jira"
//		project:      "PROJ"
//		auth_profile: "work"
//		filter:       "status != Done"
//		mapping: {title: "summary"}
//	}
//
// name is the remote name (the struct label). The target is the jira project
// key or the github owner/repo. All validation happens here so that a bad
// config fails before any adapter is built.
func CompileRemote(name string, v cue.Value) (*ir.RemoteConfig, error) {
	prefix := "remotes." + name
	if err := v.Err(); err != nil {
		return nil, formatCUEError(prefix, err)
	}
	if v.Kind() != cue.StructKind {
		return nil, &CompileError{Field: prefix, Message: "remote must be a struct", Pos: v.Pos()}
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(prefix, err)
	}
	for iter.Next() {
		key := labelName(iter.Label())
		if !remoteKeys[key] {
			return nil, &CompileError{
				Field:   prefix + "." + key,
				Message: fmt.Sprintf("unknown remote key %q", key),
				Pos:     iter.Value().Pos(),
			}
		}
	}

	cfg := &ir.RemoteConfig{Name: name}

	provider, err := requiredString(v, prefix, "provider")
	if err != nil {
		return nil, err
	}
	cfg.Provider = ir.Provider(provider)
	if !refs.ValidProvider(cfg.Provider) {
		return nil, &CompileError{
			Field:   prefix + ".provider",
			Message: fmt.Sprintf("unknown provider %q, must be \"jira\" or \"github\"", provider),
			Pos:     lookup(v, "provider").Pos(),
		}
	}

	switch cfg.Provider {
	case ir.ProviderJira:
		if lookup(v, "repo").Exists() {
			return nil, &CompileError{Field: prefix + ".repo", Message: "repo is only valid for github remotes", Pos: lookup(v, "repo").Pos()}
		}
		cfg.Target, err = requiredString(v, prefix, "project")
		if err != nil {
			return nil, err
		}
		if !jiraProjectPattern.MatchString(cfg.Target) {
			return nil, &CompileError{
				Field:   prefix + ".project",
				Message: fmt.Sprintf("invalid project key %q", cfg.Target),
				Pos:     lookup(v, "project").Pos(),
			}
		}
	case ir.ProviderGitHub:
		if lookup(v, "project").Exists() {
			return nil, &CompileError{Field: prefix + ".project", Message: "project is only valid for jira remotes", Pos: lookup(v, "project").Pos()}
		}
		cfg.Target, err = requiredString(v, prefix, "repo")
		if err != nil {
			return nil, err
		}
		if !githubRepoPattern.MatchString(cfg.Target) {
			return nil, &CompileError{
				Field:   prefix + ".repo",
				Message: fmt.Sprintf("invalid repo %q, expected owner/repo", cfg.Target),
				Pos:     lookup(v, "repo").Pos(),
			}
		}
	}

	if cfg.AuthProfile, err = optionalString(v, prefix, "auth_profile"); err != nil {
		return nil, err
	}
	if cfg.Filter, err = optionalString(v, prefix, "filter"); err != nil {
		return nil, err
	}

	mappingVal := lookup(v, "mapping")
	if !mappingVal.Exists() {
		return nil, &CompileError{Field: prefix + ".mapping", Message: "mapping is required", Pos: v.Pos()}
	}
	rules, err := CompileMapping(mappingVal)
	if err != nil {
		if ce, ok := err.(*CompileError); ok {
			ce.Field = prefix + "." + ce.Field
		}
		return nil, err
	}
	cfg.Mapping = rules

	return cfg, nil
}

func requiredString(v cue.Value, prefix, key string) (string, error) {
	val := lookup(v, key)
	if !val.Exists() {
		return "", &CompileError{Field: prefix + "." + key, Message: key + " is required", Pos: v.Pos()}
	}
	s, err := val.String()
	if err != nil || s == "" {
		return "", &CompileError{Field: prefix + "." + key, Message: key + " must be a non-empty string", Pos: val.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, prefix, key string) (string, error) {
	val := lookup(v, key)
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", &CompileError{Field: prefix + "." + key, Message: key + " must be a string", Pos: val.Pos()}
	}
	return s, nil
}
