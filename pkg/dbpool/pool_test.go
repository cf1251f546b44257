package dbpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	closed atomic.Bool
}

func (f *fakeConn) Closed() bool { return f.closed.Load() }
func (f *fakeConn) Close() error { f.closed.Store(true); return nil }

func newFakePool(size int) (*Pool, *int64) {
	var dials int64
	dial := func(ctx context.Context) (Conn, error) {
		atomic.AddInt64(&dials, 1)
		return &fakeConn{}, nil
	}
	return New(size, dial), &dials
}

func TestAcquireReleaseReusesConnection(t *testing.T) {
	p, dials := newFakePool(2)

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release(c1)

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c2 != c1 {
		t.Fatal("expected released connection to be reused")
	}
	if atomic.LoadInt64(dials) != 1 {
		t.Fatalf("dials = %d, want 1", *dials)
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	p, _ := newFakePool(1)

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to block until capacity frees up")
	}

	p.Release(c1)
	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release(c2)
}

func TestClosedConnectionIsNotReused(t *testing.T) {
	p, dials := newFakePool(1)

	c1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c1.Close()
	p.Release(c1)

	c2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c2 == c1 {
		t.Fatal("expected a fresh connection after the idle one was closed")
	}
	if atomic.LoadInt64(dials) != 2 {
		t.Fatalf("dials = %d, want 2", *dials)
	}
}

func TestWithReleasesOnError(t *testing.T) {
	p, _ := newFakePool(1)

	wantErr := context.Canceled
	err := p.With(context.Background(), func(c Conn) error { return wantErr })
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	// the slot must have been released despite the error
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after With-error failed: %v", err)
	}
}

func TestConcurrentAcquireRespectsSize(t *testing.T) {
	p, _ := newFakePool(3)
	var wg sync.WaitGroup
	var active, maxActive int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&maxActive)
				if n <= old || atomic.CompareAndSwapInt64(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&active, -1)
			p.Release(c)
		}()
	}
	wg.Wait()

	if maxActive > 3 {
		t.Fatalf("observed %d concurrent connections, want <= 3", maxActive)
	}
}
