package anacrolix

import (
	"log/slog"
	"sync"
	"time"

	"torrent2http/internal/domain"
)

// alertQueue buffers engine events until the control loop pops them.
type alertQueue struct {
	mu     sync.Mutex
	items  []domain.Alert
	notify chan struct{}
	logger *slog.Logger
	debug  bool
}

func newAlertQueue(logger *slog.Logger, debug bool) *alertQueue {
	return &alertQueue{
		notify: make(chan struct{}, 1),
		logger: logger,
		debug:  debug,
	}
}

func (q *alertQueue) push(a domain.Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	q.mu.Lock()
	q.items = append(q.items, a)
	q.mu.Unlock()

	if q.debug {
		attrs := []any{
			slog.String("kind", string(a.Kind)),
			slog.String("infoHash", a.InfoHash),
		}
		if a.Message != "" {
			attrs = append(attrs, slog.String("message", a.Message))
		}
		if a.Err != nil {
			attrs = append(attrs, slog.String("error", a.Err.Error()))
		}
		q.logger.Info("engine alert", attrs...)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *alertQueue) pop() []domain.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *alertQueue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// wait blocks until an alert is queued or timeout elapses.
func (q *alertQueue) wait(timeout time.Duration) bool {
	if q.pending() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if q.pending() {
				return true
			}
		case <-timer.C:
			return q.pending()
		}
	}
}
