package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrConnClosed is returned by Send once the underlying transport has closed.
var ErrConnClosed = errors.New("connection closed")

const sendTimeout = 10 * time.Second

// AgentConn wraps one live WebSocket connection. Writes are serialized so
// messages forwarded to the same connection keep their order; the transport
// layer owns the read side.
type AgentConn struct {
	ID          string // connection id, not the agent id
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func NewAgentConn(conn *websocket.Conn) *AgentConn {
	return &AgentConn{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Send delivers one frame. Fails fast once the connection is marked closed.
func (c *AgentConn) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// MarkClosed records the transport close. Irreversible; the handler calls it
// exactly once before registry cleanup so Lookup stops returning this handle.
func (c *AgentConn) MarkClosed() {
	c.closed.Store(true)
}

// Closed reports whether the transport has closed.
func (c *AgentConn) Closed() bool {
	return c.closed.Load()
}

// Close shuts the WebSocket down with the given status.
func (c *AgentConn) Close(status websocket.StatusCode, reason string) {
	c.closed.Store(true)
	c.conn.Close(status, reason)
}

// AgentEvent is emitted when an agent id is bound or unbound.
type AgentEvent struct {
	Type    string // "agent.online" or "agent.offline"
	AgentID string
	ConnID  string
}

// Registry is the live mapping from agent id to its current connection. It is
// the only state shared across connection goroutines; every operation takes
// the single mutex and never touches the network while holding it.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentConn

	// OnEvent, if set, is called after every bind/unbind, outside the lock.
	// The server uses it to keep the profile store's online flag current.
	OnEvent func(ev AgentEvent)
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*AgentConn),
	}
}

// Bind inserts or replaces the entry for id. A replaced connection is not
// closed here — it simply becomes unroutable and cleans itself up when its
// own transport closes.
func (r *Registry) Bind(id string, conn *AgentConn) {
	r.mu.Lock()
	r.agents[id] = conn
	r.mu.Unlock()
	r.notify(AgentEvent{Type: "agent.online", AgentID: id, ConnID: conn.ID})
}

// Lookup returns the live connection for id. A handle already known to be
// closed is never returned; callers must still treat Send failures as
// unroutable since closure can race the lookup.
func (r *Registry) Lookup(id string) (*AgentConn, bool) {
	r.mu.Lock()
	conn, ok := r.agents[id]
	r.mu.Unlock()
	if !ok || conn.Closed() {
		return nil, false
	}
	return conn, true
}

// Unbind removes the entry for id if present.
func (r *Registry) Unbind(id string) {
	r.mu.Lock()
	conn, ok := r.agents[id]
	if ok {
		delete(r.agents, id)
	}
	r.mu.Unlock()
	if ok {
		r.notify(AgentEvent{Type: "agent.offline", AgentID: id, ConnID: conn.ID})
	}
}

// UnbindIfCurrent removes the entry for id only if it still maps to conn.
// A stale close must not evict a newer registration that superseded it:
// register A on X, register A on Y, then close X — A must keep resolving to Y.
func (r *Registry) UnbindIfCurrent(id string, conn *AgentConn) bool {
	r.mu.Lock()
	cur, ok := r.agents[id]
	if ok && cur == conn {
		delete(r.agents, id)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		r.notify(AgentEvent{Type: "agent.offline", AgentID: id, ConnID: conn.ID})
	}
	return ok
}

// Count returns the number of bound agents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// RegistryEntry is a snapshot pair for the status page.
type RegistryEntry struct {
	AgentID string
	Conn    *AgentConn
}

// Entries returns a snapshot of all bindings, sorted by agent id.
func (r *Registry) Entries() []RegistryEntry {
	r.mu.Lock()
	result := make([]RegistryEntry, 0, len(r.agents))
	for id, conn := range r.agents {
		result = append(result, RegistryEntry{AgentID: id, Conn: conn})
	}
	r.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].AgentID < result[j].AgentID })
	return result
}

// CloseAll closes every bound connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*AgentConn, 0, len(r.agents))
	for _, c := range r.agents {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (r *Registry) notify(ev AgentEvent) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}
