package persistence

import (
	"log"
	"time"

	"github.com/vectorkv/vectorkv/pkg/store"
)

// Snapshotter periodically saves a handler's state to disk on a fixed
// interval, logging (not failing) individual save errors so a transient
// write failure doesn't take the process down.
type Snapshotter struct {
	path     string
	handler  *store.Handler
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewSnapshotter creates a snapshotter that writes handler's state to path
// every interval once Start is called.
func NewSnapshotter(path string, handler *store.Handler, interval time.Duration) *Snapshotter {
	return &Snapshotter{
		path:     path,
		handler:  handler,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic save loop in a background goroutine.
func (s *Snapshotter) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if err := Save(s.path, s.handler); err != nil {
					log.Printf("persistence: periodic snapshot to %s failed: %v", s.path, err)
				}
			}
		}
	}()
}

// Stop halts the periodic loop and blocks until it has exited. It does not
// perform a final save; callers that want one should call Save directly.
func (s *Snapshotter) Stop() {
	close(s.stop)
	<-s.done
}
