// Package dbpool holds the AI proxy's pool of connections to the upstream
// DB host. Every AI mutation (CreateStore, Set, GetSimN, ...) is forwarded as
// the DB equivalent over one of db_client_pool_size borrowed connections
// rather than opening a fresh one per request. Checkout concurrency is
// capped by a weighted semaphore rather than sync.Pool, which never blocks
// a caller when empty and so cannot enforce a hard cap on live connections.
package dbpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Conn is the minimal shape a pooled DB connection must satisfy. The AI
// server's forwarding layer supplies a concrete implementation (a dialed RPC
// connection); tests substitute a fake.
type Conn interface {
	// Closed reports whether the connection has been torn down and must not
	// be reused.
	Closed() bool
	Close() error
}

// Dialer opens a new Conn to the upstream DB host.
type Dialer func(ctx context.Context) (Conn, error)

// Pool bounds the number of live upstream DB connections at size and reuses
// idle ones across requests.
type Pool struct {
	dial Dialer
	sem  *semaphore.Weighted
	size int64

	mu   sync.Mutex
	idle []Conn
}

// New creates a pool that dials through dial and never holds more than size
// concurrent connections checked out at once.
func New(size int, dial Dialer) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		dial: dial,
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Acquire blocks until a connection slot is available, then returns either a
// reused idle connection or a freshly dialed one. Callers must Release the
// returned connection (via Pool.Release) exactly once.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()
		if !c.Closed() {
			return c, nil
		}
		p.mu.Lock()
	}
	p.mu.Unlock()

	c, err := p.dial(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("dbpool: dial: %w", err)
	}
	return c, nil
}

// Release returns c to the pool's idle list for reuse, or discards it (and
// its slot) if it is already closed.
func (p *Pool) Release(c Conn) {
	defer p.sem.Release(1)
	if c == nil || c.Closed() {
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Close tears down every idle connection. Connections currently checked out
// are the caller's responsibility.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, c := range idle {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the configured maximum number of concurrently checked-out
// connections.
func (p *Pool) Size() int {
	return int(p.size)
}

// With acquires a connection, runs fn with it, and releases it regardless of
// whether fn returns an error.
func (p *Pool) With(ctx context.Context, fn func(Conn) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return fn(c)
}
