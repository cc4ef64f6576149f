// Package session owns the per-session event streams: a bounded backlog
// that tees to any number of subscribers, with load shedding for slow
// consumers and a retention grace period after the terminal event.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxus-dev/fluxus/internal/metrics"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

const (
	// DefaultBacklog bounds the number of retained events per session.
	DefaultBacklog = 1024

	// DefaultGrace is how long a finished session stays subscribable.
	DefaultGrace = 30 * time.Second
)

// Bus tracks live sessions. Safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*Session
	backlog  int
	grace    time.Duration
}

// NewBus creates a Bus with the given backlog capacity and post-terminal
// retention. Zero values select the defaults.
func NewBus(backlog int, grace time.Duration) *Bus {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Bus{
		sessions: make(map[string]*Session),
		backlog:  backlog,
		grace:    grace,
	}
}

// Open creates a new session with a fresh id.
func (b *Bus) Open() *Session {
	s := newSession(uuid.NewString(), b.backlog)
	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()

	s.onTerminal = func() {
		time.AfterFunc(b.grace, func() { b.remove(s.id) })
	}
	return s
}

// Get returns the session with the given id.
func (b *Bus) Get(id string) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	return s, ok
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

// Session is one ordered event stream. Events are retained in a bounded
// backlog; every subscriber replays whatever is retained, then follows live.
// When the backlog overflows, the oldest non-terminal events are shed and a
// status event reports the loss. Terminal events are never shed.
type Session struct {
	id string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []schema.Event
	base    int64 // sequence number of queue[0]
	dropped int
	closed  bool

	onTerminal func()
	capacity   int
}

func newSession(id string, capacity int) *Session {
	s := &Session{id: id, capacity: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Closed reports whether the terminal event has been published.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Publish appends an event to the stream. Events after the terminal one are
// discarded: the stream contract is exactly one terminal event, last.
func (s *Session) Publish(evt schema.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.shedLocked(1)
	if s.dropped > 0 {
		// The drop notice takes a slot of its own.
		s.shedLocked(2)
		n := s.dropped
		s.dropped = 0
		s.queue = append(s.queue, schema.Event{
			Kind:      schema.EventStatus,
			Payload:   map[string]any{"dropped": n},
			Timestamp: evt.Timestamp,
			SessionID: s.id,
		})
	}
	s.queue = append(s.queue, evt)

	terminal := evt.Terminal()
	if terminal {
		s.closed = true
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if terminal && s.onTerminal != nil {
		s.onTerminal()
	}
}

// shedLocked makes room for n more events by dropping the oldest
// non-terminal entries. Terminal events never drop, so a late subscriber
// always learns how the run ended.
func (s *Session) shedLocked(n int) {
	for len(s.queue)+n > s.capacity && len(s.queue) > 0 {
		if s.queue[0].Terminal() {
			return
		}
		s.queue = s.queue[1:]
		s.base++
		s.dropped++
		metrics.EventsDropped.Inc()
	}
}

// Subscribe returns a channel that replays the retained backlog and then
// follows the live stream. The channel closes after the terminal event (or
// when ctx ends). The returned cancel function detaches the subscriber.
func (s *Session) Subscribe(ctx context.Context) (<-chan schema.Event, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan schema.Event)

	// cond.Wait cannot watch ctx, so a watcher wakes the reader loop.
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	go func() {
		defer close(ch)
		var cursor int64

		for {
			s.mu.Lock()
			if cursor < s.base {
				cursor = s.base
			}
			for cursor-s.base >= int64(len(s.queue)) && !s.closed && ctx.Err() == nil {
				s.cond.Wait()
			}
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			batch := append([]schema.Event(nil), s.queue[cursor-s.base:]...)
			closed := s.closed
			s.mu.Unlock()

			for _, evt := range batch {
				select {
				case ch <- evt:
					cursor++
				case <-ctx.Done():
					return
				}
			}
			if closed && len(batch) == 0 {
				return
			}
			if closed {
				// Re-check for a race between the copy and new events.
				s.mu.Lock()
				drained := cursor-s.base >= int64(len(s.queue))
				s.mu.Unlock()
				if drained {
					return
				}
			}
		}
	}()

	return ch, cancel
}
