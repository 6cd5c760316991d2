package workspace

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxIndexes bounds how many workspace indices stay cached.
	DefaultMaxIndexes = 5
	// DefaultIdleTTL evicts an index untouched for this long.
	DefaultIdleTTL = 15 * time.Minute
)

type entry struct {
	index      *Index
	lastAccess time.Time
}

// Manager caches at most MaxIndexes workspace indices, evicting least
// recently used entries and entries idle past IdleTTL. Concurrent
// GetOrCreate calls for the same root resolve to a single shared index.
type Manager struct {
	maxIndexes int
	idleTTL    time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewManager creates a manager; zero arguments select the defaults. A
// background janitor enforces the idle TTL until Close.
func NewManager(maxIndexes int, idleTTL time.Duration) *Manager {
	if maxIndexes <= 0 {
		maxIndexes = DefaultMaxIndexes
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	m := &Manager{
		maxIndexes:  maxIndexes,
		idleTTL:     idleTTL,
		entries:     make(map[string]*entry),
		janitorStop: make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Manager) janitor() {
	interval := m.idleTTL / 4
	if interval < time.Second {
		interval = m.idleTTL
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.janitorStop:
			return
		case now := <-ticker.C:
			m.evictIdle(now)
		}
	}
}

func (m *Manager) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for root, e := range m.entries {
		if now.Sub(e.lastAccess) >= m.idleTTL {
			delete(m.entries, root)
		}
	}
}

// GetOrCreate returns the cached index for root, building it at most once
// across concurrent callers.
func (m *Manager) GetOrCreate(ctx context.Context, root string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if e, ok := m.entries[abs]; ok {
		e.lastAccess = time.Now()
		m.mu.Unlock()
		return e.index, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(abs, func() (any, error) {
		// Recheck under the flight: a racing call may have populated it.
		m.mu.Lock()
		if e, ok := m.entries[abs]; ok {
			e.lastAccess = time.Now()
			m.mu.Unlock()
			return e.index, nil
		}
		m.mu.Unlock()

		idx, err := BuildIndex(abs)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.entries[abs] = &entry{index: idx, lastAccess: time.Now()}
		m.evictOverflowLocked()
		m.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return v.(*Index), nil
}

// Invalidate drops the cached index for root, if any.
func (m *Manager) Invalidate(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	m.mu.Lock()
	delete(m.entries, abs)
	m.mu.Unlock()
}

// Len reports the number of cached indices.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictOverflowLocked removes least recently used entries beyond the cap.
func (m *Manager) evictOverflowLocked() {
	for len(m.entries) > m.maxIndexes {
		var oldestRoot string
		var oldest time.Time
		for root, e := range m.entries {
			if oldestRoot == "" || e.lastAccess.Before(oldest) {
				oldestRoot = root
				oldest = e.lastAccess
			}
		}
		delete(m.entries, oldestRoot)
	}
}

// Close stops the janitor.
func (m *Manager) Close() {
	m.janitorOnce.Do(func() { close(m.janitorStop) })
}
