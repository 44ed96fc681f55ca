package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/adapter/memory"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/store"
)

// FixedIDGenerator returns the same id every time. Used for run ids so
// reports from one scenario are byte-identical.
type FixedIDGenerator string

// Generate implements ir.IDGenerator.
func (g FixedIDGenerator) Generate() string {
	if g == "" {
		return "run-fixed"
	}
	return string(g)
}

// OpenStore creates a SQLite task store in a temp dir with sequential
// task ids (task-0001, task-0002, ...).
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"),
		store.WithIDGenerator(ir.NewSequenceGenerator("task")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// StaticCredentials resolves every profile to a fixed token. Unknown
// profiles named in Missing fail with AUTH_ERROR.
type StaticCredentials struct {
	Missing map[string]bool
}

// ProfileFor picks the override, else the remote's profile, else "default".
func (c StaticCredentials) ProfileFor(remote *ir.RemoteConfig, override string) string {
	if override != "" {
		return override
	}
	if remote != nil && remote.AuthProfile != "" {
		return remote.AuthProfile
	}
	return "default"
}

// Resolve returns a token credential for profile.
func (c StaticCredentials) Resolve(profile string) (adapter.Credentials, error) {
	if c.Missing[profile] {
		return adapter.Credentials{}, ir.Errorf(ir.CodeAuth, "auth profile %q not found", profile)
	}
	return adapter.Credentials{Profile: profile, Method: adapter.AuthToken, Secret: "test-token"}, nil
}

// PlatformFactory returns an adapter factory that always hands out p.
func PlatformFactory(p *memory.Platform) func(*ir.RemoteConfig, adapter.Credentials) (adapter.Adapter, error) {
	return func(*ir.RemoteConfig, adapter.Credentials) (adapter.Adapter, error) {
		return p, nil
	}
}

// NoRetry is a retry policy that makes exactly one attempt without waiting.
func NoRetry() adapter.Policy {
	return adapter.Policy{Attempts: 1}
}
