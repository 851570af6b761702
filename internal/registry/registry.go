package registry

import (
	"log"
	"sync"
	"time"

	"classpace-sync-service/internal/domain"
	"github.com/google/uuid"
)

const outboxSize = 64

// Conn is one live client connection in a session room. The transport layer
// drains Outbox and writes each envelope to the socket; the registry never
// touches the socket itself.
type Conn struct {
	ID        string
	SessionID string
	Role      domain.Role
	// StudentID is the durable participant identity behind teacher/student
	// connections; empty for projector and monitor roles.
	StudentID string

	outbox    chan domain.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	// overflow holds envelopes that did not fit in the outbox, in send
	// order. One flusher goroutine at a time drains it back into the
	// outbox, so delivery order is preserved even across a stall.
	mu       sync.Mutex
	overflow []domain.Envelope
	flushing bool
}

// NewConn builds a connection handle with a server-generated ID.
func NewConn(sessionID string, role domain.Role, studentID string) *Conn {
	return &Conn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		StudentID: studentID,
		outbox:    make(chan domain.Envelope, outboxSize),
		closed:    make(chan struct{}),
	}
}

// Outbox is the ordered stream of envelopes to write to the client.
func (c *Conn) Outbox() <-chan domain.Envelope { return c.outbox }

// Closed is signalled once the connection is dead or dropped.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Close marks the connection dead. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Registry maps sessions to their currently-connected client handles. It is
// the source of truth for who is present right now; durable participant
// state lives in the session engine.
type Registry struct {
	sendTimeout time.Duration

	mu    sync.RWMutex
	rooms map[string]map[string]*Conn // sessionID -> connID -> conn
}

// New creates a registry. sendTimeout bounds how long a full outbox may
// stall before the connection is treated as dead.
func New(sendTimeout time.Duration) *Registry {
	return &Registry{
		sendTimeout: sendTimeout,
		rooms:       make(map[string]map[string]*Conn),
	}
}

// Add places a connection in its session room.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[c.SessionID]
	if !ok {
		room = make(map[string]*Conn)
		r.rooms[c.SessionID] = room
	}
	room[c.ID] = c
}

// Remove drops a connection from its room and closes it. Idempotent; safe
// to call from both the disconnect path and the dead-sender path.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	if room, ok := r.rooms[c.SessionID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(r.rooms, c.SessionID)
		}
	}
	r.mu.Unlock()
	c.Close()
}

// Members returns the room's connections, optionally filtered by role.
func (r *Registry) Members(sessionID string, roles ...domain.Role) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[sessionID]
	conns := make([]*Conn, 0, len(room))
	for _, c := range room {
		if len(roles) == 0 {
			conns = append(conns, c)
			continue
		}
		for _, role := range roles {
			if c.Role == role {
				conns = append(conns, c)
				break
			}
		}
	}
	return conns
}

// StudentConns returns every live connection held by one student. A student
// may hold several at once (tab refresh mid-reconnect); each is delivered
// to independently.
func (r *Registry) StudentConns(sessionID, studentID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []*Conn
	for _, c := range r.rooms[sessionID] {
		if c.Role == domain.RoleStudent && c.StudentID == studentID {
			conns = append(conns, c)
		}
	}
	return conns
}

// StudentConnCount reports how many connections a student currently holds.
func (r *Registry) StudentConnCount(sessionID, studentID string) int {
	return len(r.StudentConns(sessionID, studentID))
}

// Deliver enqueues one envelope for one connection without ever blocking
// the caller. A full outbox spills into the per-connection overflow queue,
// drained FIFO by a single flusher goroutine so envelopes reach the client
// in send order; if the outbox stays full past the send timeout the
// connection is treated as dead and removed, the same cleanup as an
// explicit disconnect. The resync snapshot heals whatever that client
// missed.
func (r *Registry) Deliver(c *Conn, env domain.Envelope) {
	select {
	case <-c.closed:
		return
	default:
	}
	c.mu.Lock()
	if c.flushing {
		// A flusher is already draining; append behind it to keep order.
		c.overflow = append(c.overflow, env)
		c.mu.Unlock()
		return
	}
	select {
	case c.outbox <- env:
		c.mu.Unlock()
	default:
		c.overflow = append(c.overflow, env)
		c.flushing = true
		c.mu.Unlock()
		go r.flush(c)
	}
}

// flush moves the overflow queue into the outbox one envelope at a time.
// Only one flusher runs per connection.
func (r *Registry) flush(c *Conn) {
	for {
		c.mu.Lock()
		if len(c.overflow) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		env := c.overflow[0]
		c.overflow = c.overflow[1:]
		c.mu.Unlock()

		select {
		case c.outbox <- env:
		case <-time.After(r.sendTimeout):
			log.Printf("conn %s (%s): %v after %s, dropping", c.ID, c.Role, domain.ErrConnectionDead, r.sendTimeout)
			r.Remove(c)
			return
		case <-c.closed:
			return
		}
	}
}

// Apply executes one fanout instruction against the room.
func (r *Registry) Apply(sessionID string, sender *Conn, f domain.Fanout) {
	var targets []*Conn
	switch f.Scope {
	case domain.FanoutBroadcastAll:
		targets = r.Members(sessionID)
	case domain.FanoutBroadcastOthers:
		for _, c := range r.Members(sessionID) {
			if sender == nil || c.ID != sender.ID {
				targets = append(targets, c)
			}
		}
	case domain.FanoutUnicastStudent:
		targets = r.StudentConns(sessionID, f.StudentID)
	case domain.FanoutUnicastTeacher:
		targets = r.Members(sessionID, domain.RoleTeacher)
	case domain.FanoutViewers:
		targets = r.Members(sessionID, domain.RoleTeacher, domain.RoleMonitor)
	}
	log.Printf("DEBUG apply scope=%v student=%q type=%s targets=%d", f.Scope, f.StudentID, f.Event.Type, len(targets))
	for _, c := range targets {
		r.Deliver(c, f.Event)
	}
}

// DropSession closes and removes every connection in a room, used when the
// teacher ends the session.
func (r *Registry) DropSession(sessionID string) {
	r.mu.Lock()
	room := r.rooms[sessionID]
	delete(r.rooms, sessionID)
	r.mu.Unlock()
	for _, c := range room {
		c.Close()
	}
}
