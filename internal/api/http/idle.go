package apihttp

import (
	"sync"
	"time"
)

// idleTracker calls onIdle once no request has been in flight for timeout.
// The countdown starts at construction, so a server nobody connects to also
// goes idle.
type idleTracker struct {
	mu      sync.Mutex
	active  int
	timeout time.Duration
	timer   *time.Timer
	stopped bool
	onIdle  func()
}

func newIdleTracker(timeout time.Duration, onIdle func()) *idleTracker {
	t := &idleTracker{timeout: timeout, onIdle: onIdle}
	t.timer = time.AfterFunc(timeout, t.fire)
	return t
}

func (t *idleTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	t.timer.Stop()
}

func (t *idleTracker) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 && !t.stopped {
		t.timer.Reset(t.timeout)
	}
}

func (t *idleTracker) fire() {
	t.mu.Lock()
	idle := t.active == 0 && !t.stopped
	t.mu.Unlock()
	if idle {
		t.onIdle()
	}
}

func (t *idleTracker) activeRequests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *idleTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.timer.Stop()
}
