package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process TTL cache with prefix invalidation. Expired
// entries are dropped lazily on read.
type Memory struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex

	hits   int64
	misses int64
	now    func() time.Time
}

type memoryEntry struct {
	expiresAt time.Time
	value     []byte
}

// NewMemory creates a new in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached value and true, or nil and false on a miss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}

	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		m.misses++
		return nil, false
	}

	m.hits++
	return entry.value, true
}

// Set stores a value with an expiration, overwriting silently.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
}

// Delete removes a key. Idempotent.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
}

// InvalidatePrefix removes every key sharing a prefix.
func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
}

// Stats returns a snapshot of cache activity.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var size int64
	for _, entry := range m.entries {
		size += int64(len(entry.value))
	}

	stats := Stats{
		KeyCount:       len(m.entries),
		TotalHits:      m.hits,
		TotalMisses:    m.misses,
		MemoryEstimate: size,
	}

	total := m.hits + m.misses
	if total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}

	return stats
}
