package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Pool bounds concurrent access to the store. Tokens are handed out on
// Acquire and must be returned exactly once via Release; WithConn is the
// scoped form and should be preferred.
type Pool struct {
	db             *sql.DB
	tokens         chan struct{}
	acquireTimeout time.Duration

	mu            sync.Mutex
	totalAcquired int64
	totalWait     time.Duration
}

// PoolStats is a read-only snapshot of pool activity.
type PoolStats struct {
	Available     int
	InUse         int
	TotalAcquired int64
	TotalWait     time.Duration
}

// newPool creates a pool of size n over the given database handle.
func newPool(db *sql.DB, n int, acquireTimeout time.Duration) *Pool {
	tokens := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		tokens <- struct{}{}
	}

	return &Pool{
		db:             db,
		tokens:         tokens,
		acquireTimeout: acquireTimeout,
	}
}

// Acquire blocks until a connection is available or the acquire timeout
// elapses, in which case it returns ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	start := time.Now()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case <-p.tokens:
	case <-timer.C:
		return nil, fmt.Errorf("%w: no connection available after %s", ErrPoolExhausted, p.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p.mu.Lock()
	p.totalAcquired++
	p.totalWait += time.Since(start)
	p.mu.Unlock()

	return conn, nil
}

// Release returns a connection to the pool. Must be called exactly once per
// successful Acquire.
func (p *Pool) Release(conn *sql.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	p.tokens <- struct{}{}
}

// WithConn acquires a connection, runs fn, and releases the connection on
// every exit path.
func (p *Pool) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	return fn(conn)
}

// Stats returns a snapshot of pool activity. Never blocks on the store.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := len(p.tokens)
	return PoolStats{
		Available:     available,
		InUse:         cap(p.tokens) - available,
		TotalAcquired: p.totalAcquired,
		TotalWait:     p.totalWait,
	}
}
