package relay

import (
	"encoding/json"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no profile store configured")
		return
	}
	var req struct {
		AgentID     string `json:"agent_id"`
		PublicKey   string `json:"public_key"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	if err := s.Store.UpsertAgent(req.AgentID, req.PublicKey, req.Fingerprint); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"agent_id": req.AgentID,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no profile store configured")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.Store.Heartbeat(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no profile store configured")
		return
	}
	id := r.PathValue("id")
	agent, err := s.Store.GetAgent(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	// Liveness comes from the routing registry, not the stored flag — the
	// registry is the source of truth for "can I signal this agent now".
	_, connected := s.Registry.Lookup(id)

	writeJSON(w, http.StatusOK, agentJSON(agent, connected))
}

func (s *Server) handleSearchAgents(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no profile store configured")
		return
	}
	q := r.URL.Query().Get("q")
	agents, err := s.Store.SearchAgents(q, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, len(agents))
	for i, a := range agents {
		_, connected := s.Registry.Lookup(a.ID)
		out[i] = agentJSON(a, connected)
	}
	writeJSON(w, http.StatusOK, out)
}

func agentJSON(a *AgentRow, connected bool) map[string]any {
	var lastSeen string
	if a.LastSeen != nil {
		lastSeen = a.LastSeen.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"agent_id":    a.ID,
		"public_key":  a.PublicKey,
		"fingerprint": a.Fingerprint,
		"online":      a.Online,
		"connected":   connected,
		"last_seen":   lastSeen,
	}
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
