package usecase

import "sync"

// Shutdown reasons.
const (
	ReasonRequested    = "shutdown requested"
	ReasonSignal       = "signal"
	ReasonParentExited = "parent process exited"
	ReasonFinished     = "torrent finished"
	ReasonIdle         = "idle timeout"
	ReasonServerError  = "server error"
)

// ShutdownTrigger is the shared shutdown flag. The first Fire wins; later
// calls are no-ops.
type ShutdownTrigger struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

func NewShutdownTrigger() *ShutdownTrigger {
	return &ShutdownTrigger{done: make(chan struct{})}
}

func (t *ShutdownTrigger) Fire(reason string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.reason = reason
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *ShutdownTrigger) Done() <-chan struct{} {
	return t.done
}

func (t *ShutdownTrigger) Fired() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *ShutdownTrigger) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
