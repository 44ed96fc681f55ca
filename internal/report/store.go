package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/issuesync/internal/ir"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "sync-run-report.json"

// File names are <timestamp>-<run-id>.json; the timestamp sorts lexically.
const timestampLayout = "20060102T150405Z"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func reportSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("load report schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Validate checks raw report JSON against the report schema.
func Validate(data []byte) error {
	schema, err := reportSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	return nil
}

// Entry describes one persisted report.
type Entry struct {
	Path   string `json:"path"` // Relative to the store root, slash separated
	Remote string `json:"remote"`
	Name   string `json:"name"`
}

// Store keeps reports as JSON files under one root directory.
type Store struct {
	root    string
	persist bool
}

// NewStore creates a report store rooted at dir. With persist off, Save is
// a no-op and reads still work.
func NewStore(dir string, persist bool) *Store {
	return &Store{root: dir, persist: persist}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Persist reports whether Save writes files.
func (s *Store) Persist() bool {
	return s.persist
}

// Save writes the report and returns its relative path. Returns "" when
// persistence is off.
func (s *Store) Save(report *ir.SyncRunReport) (string, error) {
	if s == nil || !s.persist {
		return "", nil
	}
	if !safeName(report.Remote) || !safeName(report.RunID) {
		return "", fmt.Errorf("report: unsafe remote or run id %q/%q", report.Remote, report.RunID)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := Validate(data); err != nil {
		return "", err
	}

	rel := path.Join(report.Remote, fmt.Sprintf("%s-%s.json", report.StartedAt.UTC().Format(timestampLayout), report.RunID))
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial report.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".report-*")
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename report: %w", err)
	}
	return rel, nil
}

// List returns persisted reports, newest first within each remote, remotes
// sorted by name.
func (s *Store) List() ([]Entry, error) {
	remotes, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	entries := []Entry{}
	for _, remote := range remotes {
		if !remote.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, remote.Name()))
		if err != nil {
			return nil, fmt.Errorf("list reports for %s: %w", remote.Name(), err)
		}
		var names []string
		for _, f := range files {
			if f.Type().IsRegular() && strings.HasSuffix(f.Name(), ".json") && !strings.HasPrefix(f.Name(), ".") {
				names = append(names, f.Name())
			}
		}
		slices.Sort(names)
		slices.Reverse(names)
		for _, name := range names {
			entries = append(entries, Entry{
				Path:   path.Join(remote.Name(), name),
				Remote: remote.Name(),
				Name:   name,
			})
		}
	}
	return entries, nil
}

// Get reads one report by relative path. The raw bytes are returned
// verbatim along with the decoded report. Paths that leave the store root
// are rejected with NOT_FOUND.
func (s *Store) Get(rel string) ([]byte, *ir.SyncRunReport, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ir.Errorf(ir.CodeNotFound, "report %s not found", rel)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read report: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, nil, fmt.Errorf("report %s: %w", rel, err)
	}
	var report ir.SyncRunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, nil, fmt.Errorf("decode report %s: %w", rel, err)
	}
	return data, &report, nil
}

func (s *Store) resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	cleaned := path.Clean(rel)
	if rel == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") ||
		strings.Contains(rel, `\`) || !strings.HasSuffix(cleaned, ".json") || !filepath.IsLocal(filepath.FromSlash(cleaned)) {
		return "", ir.Errorf(ir.CodeNotFound, "report %s not found", rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func safeName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
