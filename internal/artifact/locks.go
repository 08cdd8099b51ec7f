package artifact

import "sync"

// pathLockManager serializes writes per (run, path) so distinct paths within a
// run can be written concurrently while a single path's version sequence stays
// gapless.
type pathLockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLockManager() *pathLockManager {
	return &pathLockManager{locks: make(map[string]*sync.Mutex)}
}

func (m *pathLockManager) key(runID, path string) string {
	return runID + "\x00" + path
}

// Lock acquires the write lock for the path and returns an unlock function.
func (m *pathLockManager) Lock(runID, path string) func() {
	m.mu.Lock()
	lock, ok := m.locks[m.key(runID, path)]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[m.key(runID, path)] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return func() { lock.Unlock() }
}

// RemoveRun discards all locks belonging to the run. No lock may be held.
func (m *pathLockManager) RemoveRun(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := runID + "\x00"
	for key := range m.locks {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(m.locks, key)
		}
	}
}
