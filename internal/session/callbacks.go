package session

import (
	"sync"
	"time"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Callbacks is the emission facade handed to the engine and agent. It stamps
// events with the session id and a monotonically non-decreasing timestamp,
// and enforces the stream contract: exactly one terminal event, after which
// everything else is dropped.
type Callbacks struct {
	session *Session
	now     func() time.Time

	mu       sync.Mutex
	last     time.Time
	terminal bool
}

// NewCallbacks creates the facade for a session.
func NewCallbacks(s *Session) *Callbacks {
	return &Callbacks{session: s, now: time.Now}
}

// SessionID returns the target session id.
func (c *Callbacks) SessionID() string { return c.session.ID() }

// Emit publishes one event. Terminal kinds latch the stream shut.
func (c *Callbacks) Emit(kind string, payload any) {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return
	}

	ts := c.now().UTC()
	if !ts.After(c.last) {
		ts = c.last.Add(time.Microsecond)
	}
	c.last = ts

	evt := schema.Event{
		Kind:      kind,
		Payload:   payload,
		Timestamp: ts,
		SessionID: c.session.ID(),
	}
	if evt.Terminal() {
		c.terminal = true
	}
	c.mu.Unlock()

	c.session.Publish(evt)
}

// Complete closes the stream with the run summary.
func (c *Callbacks) Complete(summary schema.RunSummary) {
	c.Emit(schema.EventComplete, summary)
}

// Fail closes the stream with a structured error payload.
func (c *Callbacks) Fail(err error) {
	eng := schema.AsEngineError(err, schema.ErrCodeInternal)
	c.Emit(schema.EventError, map[string]any{
		"code":    eng.Code,
		"message": eng.Message,
		"node_id": eng.NodeID,
	})
}
