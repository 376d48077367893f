package wire

import "encoding/json"

// Message types for the relay WebSocket protocol.
const (
	// Agent → Relay
	TypeRegister = "register"
	TypeSignal   = "signal"
	TypePing     = "ping"

	// Relay → Agent
	TypeConnected  = "connected"
	TypeRegistered = "registered"
	TypePong       = "pong"
	TypeError      = "error"
)

// Envelope wraps every WebSocket message with a type field for dispatch.
type Envelope struct {
	Type string `json:"type"`
}

// Connected is the relay's greeting, sent once when a connection is accepted.
type Connected struct {
	Type   string `json:"type"`
	ConnID string `json:"conn_id"`
}

// Register binds an agent identifier to the sending connection.
// Older clients send the identifier as "id" instead of "agent_id".
type Register struct {
	Type     string `json:"type"`
	AgentID  string `json:"agent_id"`
	LegacyID string `json:"id,omitempty"`
}

// ID returns the agent identifier, preferring the current field name.
func (r Register) ID() string {
	if r.AgentID != "" {
		return r.AgentID
	}
	return r.LegacyID
}

// Registered is the relay's acknowledgment of a register message. It echoes
// the identifier the relay accepted.
type Registered struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
}

// Signal carries an opaque negotiation payload between two agents. The relay
// never inspects Payload; it only reads Target to route and stamps From with
// the sender's registered identity before forwarding.
type Signal struct {
	Type    string          `json:"type"`
	Target  string          `json:"target"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ping is a liveness probe. The relay answers with Pong and changes no state.
type Ping struct {
	Type string `json:"type"`
}

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the relay to the originating connection only. Target
// names the unreachable agent when the error came from routing.
type ErrorMsg struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message"`
}
