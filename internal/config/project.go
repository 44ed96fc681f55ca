// Package config loads the two configuration scopes:
//
//   - project: <dir>/.issuesync/config.cue, compiled with CUE (remotes, mappings)
//   - home: ~/.issuesync/config.yaml, read with viper (auth profiles only)
//
// Secrets never live in either file. Auth profiles name environment
// variables that are read when credentials are resolved.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/issuesync/internal/compiler"
	"github.com/roach88/issuesync/internal/ir"
)

const (
	// DirName is the per-project and per-user state directory.
	DirName = ".issuesync"
	// ProjectFile is the project config file inside DirName.
	ProjectFile = "config.cue"
)

// Project is a loaded project: its compiled config plus where its local
// state lives.
type Project struct {
	Root   string // Project directory (contains .issuesync)
	Name   string // Local project name; defaults to the directory base name
	Config *compiler.ProjectConfig
}

// LoadProject reads and compiles <dir>/.issuesync/config.cue.
func LoadProject(dir string) (*Project, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, ir.WrapError(ir.CodeConfig, "resolve project dir", err)
	}

	path := filepath.Join(root, DirName, ProjectFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ir.Errorf(ir.CodeConfig, "no project config at %s", path)
	}
	if err != nil {
		return nil, ir.WrapError(ir.CodeConfig, "read project config", err)
	}

	cfg, err := compiler.CompileProject(cuecontext.New().CompileBytes(data, cue.Filename(path)))
	if err != nil {
		return nil, err
	}

	name := cfg.Project
	if name == "" {
		name = filepath.Base(root)
	}
	return &Project{Root: root, Name: name, Config: cfg}, nil
}

// Remote returns the compiled config for the named remote.
func (p *Project) Remote(name string) (*ir.RemoteConfig, error) {
	remote, ok := p.Config.Remote(name)
	if !ok {
		return nil, ir.Errorf(ir.CodeConfig, "unknown remote %q", name)
	}
	return remote, nil
}

// StateDir is <root>/.issuesync.
func (p *Project) StateDir() string {
	return filepath.Join(p.Root, DirName)
}

// StorePath is the SQLite task database.
func (p *Project) StorePath() string {
	return filepath.Join(p.StateDir(), "tasks.db")
}

// ReportsDir is where run reports are persisted.
func (p *Project) ReportsDir() string {
	return filepath.Join(p.StateDir(), "reports")
}

// LockDir holds the per-remote run lock files.
func (p *Project) LockDir() string {
	return filepath.Join(p.StateDir(), "locks")
}

// InitProject writes a starter config if none exists. Returns the config path.
func InitProject(dir string, src string) (string, error) {
	path := filepath.Join(dir, DirName, ProjectFile)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", DirName, err)
	}
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}
