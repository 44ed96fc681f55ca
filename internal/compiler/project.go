package compiler

import (
	"fmt"
	"regexp"

	"cuelang.org/go/cue"

	"github.com/roach88/issuesync/internal/ir"
)

// Remote names become report directory names and lock file names.
var remoteNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

var projectKeys = map[string]bool{
	"project":  true,
	"reports":  true,
	"progress": true,
	"remotes":  true,
}

// ProjectConfig is the compiled .issuesync/config.cue.
type ProjectConfig struct {
	Project        string             // Empty means "use the directory name"
	PersistReports bool
	Progress       []string           // Progress sink targets, e.g. "nats://localhost:4222"
	Remotes        []*ir.RemoteConfig // Declaration order
}

// Remote returns the named remote config.
func (p *ProjectConfig) Remote(name string) (*ir.RemoteConfig, bool) {
	for _, r := range p.Remotes {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// CompileProject compiles the whole project config:
//
//	project: "web"
//	reports: persist: true
//	progress: ["log", "nats://localhost:4222"]
//	remotes: {jira: {...}, gh: {...}}
//
// Reports persist unless reports.persist is false.
func CompileProject(v cue.Value) (*ProjectConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("config", err)
	}
	if v.Kind() != cue.StructKind {
		return nil, &CompileError{Field: "config", Message: "config must be a struct", Pos: v.Pos()}
	}
	if err := rejectUnknownKeys(v, "", projectKeys); err != nil {
		return nil, err
	}

	cfg := &ProjectConfig{PersistReports: true}

	var err error
	if cfg.Project, err = optionalString(v, "config", "project"); err != nil {
		return nil, err
	}

	if reports := lookup(v, "reports"); reports.Exists() {
		if reports.Kind() != cue.StructKind {
			return nil, &CompileError{Field: "reports", Message: "reports must be a struct", Pos: reports.Pos()}
		}
		if err := rejectUnknownKeys(reports, "reports.", map[string]bool{"persist": true}); err != nil {
			return nil, err
		}
		if persist := lookup(reports, "persist"); persist.Exists() {
			b, err := persist.Bool()
			if err != nil {
				return nil, &CompileError{Field: "reports.persist", Message: "persist must be a bool", Pos: persist.Pos()}
			}
			cfg.PersistReports = b
		}
	}

	if progress := lookup(v, "progress"); progress.Exists() {
		targets, err := stringList(progress, "progress")
		if err != nil {
			return nil, err
		}
		cfg.Progress = targets
	}

	remotes := lookup(v, "remotes")
	if !remotes.Exists() {
		return nil, &CompileError{Field: "remotes", Message: "at least one remote is required", Pos: v.Pos()}
	}
	if remotes.Kind() != cue.StructKind {
		return nil, &CompileError{Field: "remotes", Message: "remotes must be a struct", Pos: remotes.Pos()}
	}
	iter, err := remotes.Fields()
	if err != nil {
		return nil, formatCUEError("remotes", err)
	}
	for iter.Next() {
		name := labelName(iter.Label())
		if !remoteNamePattern.MatchString(name) {
			return nil, &CompileError{
				Field:   "remotes." + name,
				Message: fmt.Sprintf("invalid remote name %q (letters, digits, - and _ only)", name),
				Pos:     iter.Value().Pos(),
			}
		}
		remote, err := CompileRemote(name, iter.Value())
		if err != nil {
			return nil, err
		}
		cfg.Remotes = append(cfg.Remotes, remote)
	}
	if len(cfg.Remotes) == 0 {
		return nil, &CompileError{Field: "remotes", Message: "at least one remote is required", Pos: remotes.Pos()}
	}
	return cfg, nil
}

func rejectUnknownKeys(v cue.Value, prefix string, allowed map[string]bool) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(prefix+"fields", err)
	}
	for iter.Next() {
		key := labelName(iter.Label())
		if !allowed[key] {
			return &CompileError{
				Field:   prefix + key,
				Message: fmt.Sprintf("unknown key %q", key),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	if v.Kind() != cue.ListKind {
		return nil, &CompileError{Field: field, Message: field + " must be a list of strings", Pos: v.Pos()}
	}
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	var out []string
	for i := 0; list.Next(); i++ {
		s, err := list.Value().String()
		if err != nil {
			return nil, &CompileError{Field: fmt.Sprintf("%s[%d]", field, i), Message: "must be a string", Pos: list.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}
