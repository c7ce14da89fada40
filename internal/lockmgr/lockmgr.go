// Package lockmgr provides path-scoped exclusive locks. Any two tasks
// that write to overlapping paths execute in the order their locks are
// granted; readers never take a lock and may observe either pre- or
// post-write state depending on timing.
package lockmgr

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelrun/runner/internal/errkind"
)

// Manager tracks which paths are currently locked and by whom.
type Manager struct {
	mu     sync.Mutex
	holder map[string]string // path -> lock id
}

// New constructs an empty lock manager.
func New() *Manager {
	return &Manager{holder: make(map[string]string)}
}

// Lock is the receipt of a successful AcquireAll.
type Lock struct {
	ID    string
	Paths []string
}

// AcquireAll attempts to lock every listed path atomically: it succeeds
// only if all of them are currently unlocked. On partial conflict, no
// path is locked and an error names the first conflicting path.
func (m *Manager) AcquireAll(lockID string, paths []string) (*Lock, error) {
	if len(paths) == 0 {
		return &Lock{ID: lockID}, nil
	}

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted) // stable conflict-check order, avoids lock-order inversion across callers

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range sorted {
		if holder, locked := m.holder[p]; locked {
			return nil, errkind.New(errkind.LockConflict, "AcquireAll", fmt.Errorf("path %q is already locked by %s", p, holder))
		}
	}

	for _, p := range sorted {
		m.holder[p] = lockID
	}
	return &Lock{ID: lockID, Paths: sorted}, nil
}

// Release frees every path held by lock atomically.
func (m *Manager) Release(lock *Lock) {
	if lock == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range lock.Paths {
		if m.holder[p] == lock.ID {
			delete(m.holder, p)
		}
	}
}

// IsLocked reports whether path is currently held by any lock.
func (m *Manager) IsLocked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.holder[path]
	return ok
}
