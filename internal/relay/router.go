package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ehrlich-b/perch/internal/wire"
)

// route forwards a signal to its target connection. Delivery is
// fire-and-forget; any failure is reported to the origin only, never to the
// target. The registry lock is released before the send so a slow target
// cannot stall unrelated routing.
func route(ctx context.Context, reg *Registry, origin *AgentConn, sig wire.Signal) {
	target, ok := reg.Lookup(sig.Target)
	if !ok {
		sendError(ctx, origin, sig.Target, "agent not connected: "+sig.Target)
		return
	}

	fwd, err := json.Marshal(wire.Signal{
		Type:    wire.TypeSignal,
		Target:  sig.Target,
		From:    sig.From,
		Payload: sig.Payload,
	})
	if err != nil {
		sendError(ctx, origin, sig.Target, "unencodable signal")
		return
	}

	if err := target.Send(ctx, fwd); err != nil {
		log.Printf("forward to %s (conn %s): %v", sig.Target, target.ID, err)
		sendError(ctx, origin, sig.Target, "delivery failed: "+sig.Target)
	}
}

// sendError delivers an error reply to one connection, best-effort.
func sendError(ctx context.Context, conn *AgentConn, target, message string) {
	data, _ := json.Marshal(wire.ErrorMsg{Type: wire.TypeError, Target: target, Message: message})
	if err := conn.Send(ctx, data); err != nil {
		log.Printf("error reply to conn %s: %v", conn.ID, err)
	}
}
