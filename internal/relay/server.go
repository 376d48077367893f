package relay

import (
	"log"
	"net/http"
	"time"
)

// Server ties the routing core to its HTTP surface. The Registry is built
// once here and handed to every connection handler — never reached for as
// package state.
type Server struct {
	Store    *Store
	Registry *Registry
	Signals  *SignalMeter

	mux       *http.ServeMux
	startedAt time.Time
}

func NewServer(store *Store) *Server {
	s := &Server{
		Store:     store,
		Registry:  NewRegistry(),
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
	}

	// Presence bookkeeping is event-driven so the handler never talks to the
	// store directly. Best-effort: a store failure never affects routing.
	if store != nil {
		s.Registry.OnEvent = func(ev AgentEvent) {
			online := ev.Type == "agent.online"
			if err := store.SetOnline(ev.AgentID, online); err != nil {
				log.Printf("presence update %s: %v", ev.AgentID, err)
			}
		}
	}

	s.mux.HandleFunc("GET /ws/agent", s.handleAgentWS)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /api/agents", s.handleUpsertAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("GET /api/agents", s.handleSearchAgents)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown closes every live agent connection. Safe to call more than once.
func (s *Server) Shutdown() {
	s.Registry.CloseAll()
}
