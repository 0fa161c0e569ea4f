package cache

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
	tags      []string
}

// MemoryStore is a process-local Store for single-instance deployments and
// tests. Expired entries are dropped lazily on read and swept periodically
// by a janitor goroutine.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	tags    map[string]map[string]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates an in-memory store and starts its janitor
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]map[string]struct{}),
		stop:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Get retrieves the value stored under key
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrCacheKeyNotFound{Key: key}
	}
	if entry.expired(time.Now()) {
		m.mu.Lock()
		m.removeLocked(key)
		m.mu.Unlock()
		return nil, ErrCacheKeyNotFound{Key: key}
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores value under key for ttl and indexes it under each tag
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored, tags: tags}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	m.entries[key] = entry
	for _, tag := range tags {
		set, ok := m.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// Delete removes the given keys; missing keys are not an error
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		m.removeLocked(key)
	}
	return nil
}

// DeleteByTag removes every entry indexed under tag
func (m *MemoryStore) DeleteByTag(ctx context.Context, tag string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.tags[tag]
	if !ok {
		return 0, nil
	}

	deleted := 0
	for key := range set {
		if _, exists := m.entries[key]; exists {
			m.removeLocked(key)
			deleted++
		}
	}
	delete(m.tags, tag)
	return deleted, nil
}

// Exists checks if a key holds an unexpired entry
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// Close stops the janitor and drops all entries
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.tags = make(map[string]map[string]struct{})
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(key)
		}
	}
}

// removeLocked drops key and its tag index entries. Callers hold m.mu.
func (m *MemoryStore) removeLocked(key string) {
	entry, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range entry.tags {
		if set, ok := m.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.tags, tag)
			}
		}
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
