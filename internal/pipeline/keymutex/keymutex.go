// Package keymutex serializes work per key (here, per video_id): the
// dispatcher holds a key's lock for the duration of a stage job so the same
// video is not processed twice at once.
package keymutex

import "sync"

// Map holds one mutex per key, created on first use and retained for the
// lifetime of the process. Keys are never removed: the key space (video
// IDs) is bounded by the catalog size, not by request volume.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty keymutex.Map.
func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

func (m *Map) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Lock blocks until the per-key lock for key is held.
func (m *Map) Lock(key string) {
	m.lockFor(key).Lock()
}

// Unlock releases the per-key lock for key.
func (m *Map) Unlock(key string) {
	m.lockFor(key).Unlock()
}

// With runs f while holding the per-key lock for key.
func With(m *Map, key string, f func()) {
	m.Lock(key)
	defer m.Unlock(key)
	f()
}
