package pipeline

import (
	"context"
	"sync"

	"github.com/sheet-agent/backend/internal/metrics"
)

const defaultEventBuffer = 64

// Session is the ordered event channel of one analysis run. The
// orchestrator is the only producer; a bounded channel provides
// back-pressure (a slow consumer blocks the producer, events are never
// dropped). The channel closes after the terminal event, or when the
// consumer cancels and the run is abandoned.
type Session struct {
	ID     string
	events chan Event

	closeOnce sync.Once
}

func newSession(id string, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Session{
		ID:     id,
		events: make(chan Event, buffer),
	}
}

// Events is the consumer side of the session.
func (s *Session) Events() <-chan Event {
	return s.events
}

// emit delivers one event in order, blocking while the buffer is full.
// It reports false when the consumer's context is gone, which tells the
// producer to abandon the run without emitting anything further.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case s.events <- ev:
		metrics.EventsEmitted.WithLabelValues(string(ev.Kind)).Inc()
		return true
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// Gate enforces one active request per long-lived connection: a new
// question is only accepted once the previous run has delivered its
// terminal event.
type Gate struct {
	mu   sync.Mutex
	busy bool
}

// TryAcquire reports whether the connection was idle; on true the
// caller owns the connection until Release.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

func (g *Gate) Release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
