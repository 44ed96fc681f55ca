package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/roach88/issuesync/internal/ir"
)

// Registry admits at most one in-flight run per remote.
//
// Within a process the registry tracks active remotes in memory. When a
// lock directory is set, each run also holds an exclusive file lock
// (<dir>/<remote>.lock), so two CLI processes on the same project exclude
// each other too.
type Registry struct {
	mu      sync.Mutex
	active  map[string]bool
	lockDir string
}

// NewRegistry creates a registry. An empty lockDir disables file locks.
func NewRegistry(lockDir string) *Registry {
	return &Registry{active: make(map[string]bool), lockDir: lockDir}
}

// Acquire claims the remote. The returned release func must be called when
// the run ends; it is safe to call more than once.
func (r *Registry) Acquire(remote string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[remote] {
		return nil, concurrentRun(remote)
	}

	var lock *flock.Flock
	if r.lockDir != "" {
		if err := os.MkdirAll(r.lockDir, 0o755); err != nil {
			return nil, ir.WrapError(ir.CodeLocalStore, "create lock dir", err)
		}
		lock = flock.New(filepath.Join(r.lockDir, remote+".lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, ir.WrapError(ir.CodeLocalStore, "acquire run lock", err)
		}
		if !locked {
			return nil, concurrentRun(remote)
		}
	}
	r.active[remote] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.active, remote)
			if lock != nil {
				_ = lock.Unlock()
			}
		})
	}, nil
}

// Active reports whether a run for remote is in flight in this process.
func (r *Registry) Active(remote string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[remote]
}

func concurrentRun(remote string) error {
	return &ir.Error{
		Code:    ir.CodeConcurrentRun,
		Message: fmt.Sprintf("a run for remote %q is already in progress", remote),
	}
}
