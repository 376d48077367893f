package relay

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/perch/internal/wire"
)

// handleAgentWS runs the per-connection message loop. One goroutine per
// accepted WebSocket; the registry is the only shared state it touches.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("websocket accept: %v", err)
		return
	}
	conn.SetReadLimit(256 * 1024)
	defer conn.CloseNow()

	ctx := r.Context()
	ac := NewAgentConn(conn)
	sess := &session{conn: ac}

	// Cleanup runs before this goroutine exits so the registry never retains
	// a stale entry past teardown. MarkClosed first: lookups racing the
	// unbind must already see the handle as dead.
	defer func() {
		ac.MarkClosed()
		if sess.onClose(s.Registry) {
			log.Printf("conn %s: agent %s offline", ac.ID, sess.agentID)
		}
		if s.Signals != nil {
			s.Signals.Forget(ac.ID)
		}
	}()

	greeting, _ := json.Marshal(wire.Connected{Type: wire.TypeConnected, ConnID: ac.ID})
	if err := ac.Send(ctx, greeting); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Printf("conn %s disconnected: %v", ac.ID, err)
			return
		}

		// Meter inbound traffic before doing any work with it.
		if s.Signals != nil {
			if err := s.Signals.Wait(ctx, ac.ID, len(data)); err != nil {
				return
			}
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// A single bad frame must not tear down a healthy session.
			log.Printf("conn %s: unparsable frame: %v", ac.ID, err)
			continue
		}

		switch env.Type {
		case wire.TypeRegister:
			var reg wire.Register
			if err := json.Unmarshal(data, &reg); err != nil {
				log.Printf("conn %s: bad register: %v", ac.ID, err)
				continue
			}
			id := reg.ID()
			if id == "" {
				log.Printf("conn %s: register without agent id", ac.ID)
				continue
			}
			sess.onRegister(s.Registry, id)
			ack, _ := json.Marshal(wire.Registered{Type: wire.TypeRegistered, AgentID: id})
			if err := ac.Send(ctx, ack); err != nil {
				return
			}
			log.Printf("conn %s registered as %s", ac.ID, id)

		case wire.TypeSignal:
			var sig wire.Signal
			if err := json.Unmarshal(data, &sig); err != nil {
				log.Printf("conn %s: bad signal: %v", ac.ID, err)
				continue
			}
			if sess.agentID == "" {
				sendError(ctx, ac, sig.Target, "register before signaling")
				continue
			}
			// From is server-asserted: whatever the sender wrote is replaced
			// with the identity this connection registered.
			sig.From = sess.agentID
			route(ctx, s.Registry, ac, sig)

		case wire.TypePing:
			pong, _ := json.Marshal(wire.Pong{Type: wire.TypePong})
			if err := ac.Send(ctx, pong); err != nil {
				return
			}

		default:
			log.Printf("conn %s: unknown message type %q", ac.ID, env.Type)
		}
	}
}
