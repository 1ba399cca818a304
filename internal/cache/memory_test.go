package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok := m.Get(ctx, "missing")
	assert.False(t, ok, "missing key should miss")

	m.Set(ctx, "k", []byte("v"), time.Minute)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	// Overwrite is silent
	m.Set(ctx, "k", []byte("v2"), time.Minute)
	got, ok = m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Set(ctx, "k", []byte("v"), time.Minute)

	_, ok := m.Get(ctx, "k")
	assert.True(t, ok, "entry should be live before expiry")

	current = current.Add(2 * time.Minute)

	_, ok = m.Get(ctx, "k")
	assert.False(t, ok, "entry should expire lazily on read")

	// The expired entry is dropped, not just hidden
	assert.Equal(t, 0, m.Stats().KeyCount)
}

func TestMemoryNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "zero", []byte("v"), 0)
	m.Set(ctx, "negative", []byte("v"), -time.Second)

	_, ok := m.Get(ctx, "zero")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "negative")
	assert.False(t, ok)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	m.Delete(ctx, "k")

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	// Deleting an absent key is idempotent
	m.Delete(ctx, "k")
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, PrefixRiskScore+"FW/AC-1", []byte("a"), time.Minute)
	m.Set(ctx, PrefixRiskScore+"FW/AC-2", []byte("b"), time.Minute)
	m.Set(ctx, PrefixRiskSummary+"all", []byte("c"), time.Minute)

	m.InvalidatePrefix(ctx, PrefixRiskScore)

	_, ok := m.Get(ctx, PrefixRiskScore+"FW/AC-1")
	assert.False(t, ok)
	_, ok = m.Get(ctx, PrefixRiskScore+"FW/AC-2")
	assert.False(t, ok)

	// Other prefixes are untouched
	_, ok = m.Get(ctx, PrefixRiskSummary+"all")
	assert.True(t, ok)
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k", []byte("value"), time.Minute)

	m.Get(ctx, "k")
	m.Get(ctx, "k")
	m.Get(ctx, "missing")

	stats := m.Stats()
	assert.Equal(t, 1, stats.KeyCount)
	assert.Equal(t, int64(2), stats.TotalHits)
	assert.Equal(t, int64(1), stats.TotalMisses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, int64(5), stats.MemoryEstimate)
}

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	n := NewNull()

	// Every operation degrades to a no-op; Get always misses
	n.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := n.Get(ctx, "k")
	assert.False(t, ok)

	n.Delete(ctx, "k")
	n.InvalidatePrefix(ctx, PrefixRiskScore)

	stats := n.Stats()
	assert.Equal(t, 0, stats.KeyCount)
}
