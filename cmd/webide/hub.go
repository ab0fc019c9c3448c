package main

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Event is the tagged envelope pushed over the realtime channel. Payload
// is human-readable status text, not a record of truth.
type Event struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// sender is the write side of one realtime connection. Implementations
// must be safe for concurrent use (see wsSender).
type sender interface {
	Send(Event) error
	Close() error
}

// hubConn is one registered connection: Connecting until Register returns,
// Open while in its session's group, Closed once removed.
type hubConn struct {
	id        string
	sessionID string
	sender    sender
}

// hub is the process-scoped registry of live realtime connections, keyed
// by session ID. It is constructed once at startup and injected into the
// handlers; there is no teardown, the state is ephemeral by nature.
type hub struct {
	mu     sync.Mutex
	groups map[string]map[*hubConn]bool

	// onEmpty, when set, runs after a session's group drops to zero.
	onEmpty func(sessionID string)
}

func newHub() *hub {
	return &hub{groups: make(map[string]map[*hubConn]bool)}
}

// Register moves a connection to Open: it joins its session's group and
// starts receiving broadcasts for that session only.
func (h *hub) Register(sessionID string, s sender) *hubConn {
	conn := &hubConn{id: uuid.New().String(), sessionID: sessionID, sender: s}
	h.mu.Lock()
	group := h.groups[sessionID]
	if group == nil {
		group = make(map[*hubConn]bool)
		h.groups[sessionID] = group
	}
	group[conn] = true
	total := len(group)
	h.mu.Unlock()
	log.Printf("[WS] Connection %s joined session %s (total: %d)", conn.id[:8], sessionID, total)
	return conn
}

// Unregister moves a connection to Closed and drops its group when empty.
// Safe to call more than once for the same connection.
func (h *hub) Unregister(conn *hubConn) {
	h.mu.Lock()
	group := h.groups[conn.sessionID]
	if !group[conn] {
		h.mu.Unlock()
		return
	}
	delete(group, conn)
	remaining := len(group)
	if remaining == 0 {
		delete(h.groups, conn.sessionID)
	}
	onEmpty := h.onEmpty
	h.mu.Unlock()

	log.Printf("[WS] Connection %s left session %s (total: %d)", conn.id[:8], conn.sessionID, remaining)
	if remaining == 0 && onEmpty != nil {
		onEmpty(conn.sessionID)
	}
}

// GroupSize reports the number of open connections for a session.
func (h *hub) GroupSize(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[sessionID])
}

// Broadcast delivers the event to every connection in the session's group
// at call time. The group is snapshotted under the lock and never mutated
// mid-iteration; failed sends are collected during the pass and the
// offenders removed and closed afterwards (a failed send is an implicit
// disconnect). Best effort: no delivery guarantee, no replay for late
// joiners.
func (h *hub) Broadcast(sessionID string, ev Event) {
	h.mu.Lock()
	group := h.groups[sessionID]
	conns := make([]*hubConn, 0, len(group))
	for conn := range group {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	var failed []*hubConn
	for _, conn := range conns {
		if err := conn.sender.Send(ev); err != nil {
			log.Printf("[WS] Send to %s failed, dropping connection: %v", conn.id[:8], err)
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		h.Unregister(conn)
		conn.sender.Close()
	}
}

// BroadcastStatus pushes a human-readable status line to the session.
func (h *hub) BroadcastStatus(sessionID, text string) {
	h.Broadcast(sessionID, Event{Type: "status", Payload: text})
}
