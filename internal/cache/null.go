package cache

import (
	"context"
	"time"
)

// Null is the inert cache substituted when caching is disabled or the
// backing transport is unavailable. Every read is a miss and every write is
// a no-op, so the system stays fully correct without a cache.
type Null struct{}

// NewNull creates a new inert cache.
func NewNull() *Null {
	return &Null{}
}

// Get always misses.
func (n *Null) Get(context.Context, string) ([]byte, bool) {
	return nil, false
}

// Set is a no-op.
func (n *Null) Set(context.Context, string, []byte, time.Duration) {}

// Delete is a no-op.
func (n *Null) Delete(context.Context, string) {}

// InvalidatePrefix is a no-op.
func (n *Null) InvalidatePrefix(context.Context, string) {}

// Stats returns zeroes.
func (n *Null) Stats() Stats {
	return Stats{}
}
