package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/issuesync/internal/ir"
)

// createTestStore creates a new store in a temp dir with sequential task ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithIDGenerator(ir.NewSequenceGenerator("task")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func jiraRef(key string) ir.ReferenceEntry {
	return ir.ReferenceEntry{Provider: ir.ProviderJira, ExternalID: key}
}
