package relay

// session tracks which agent id a connection currently owns. It is owned
// exclusively by the connection's handler goroutine — no locking. Its only job
// is to drive registry cleanup without scanning the whole map on close.
type session struct {
	conn    *AgentConn
	agentID string // empty until the first register
}

// onRegister binds id to this connection. Re-registering the same id is an
// idempotent refresh; switching ids releases the old binding first, but only
// if this connection still owns it.
func (s *session) onRegister(reg *Registry, id string) {
	if s.agentID != "" && s.agentID != id {
		reg.UnbindIfCurrent(s.agentID, s.conn)
	}
	s.agentID = id
	reg.Bind(id, s.conn)
}

// onClose releases this connection's binding. Conditional on the binding
// still pointing here, so a delayed close never evicts a superseding
// registration. Returns true if an entry was actually removed.
func (s *session) onClose(reg *Registry) bool {
	if s.agentID == "" {
		return false
	}
	return reg.UnbindIfCurrent(s.agentID, s.conn)
}
