package relay

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates
var templateFS embed.FS

var tmplFuncs = template.FuncMap{
	"timeAgo": func(t time.Time) string {
		d := time.Since(t)
		switch {
		case d < time.Minute:
			return "just now"
		case d < time.Hour:
			return fmt.Sprintf("%dm ago", int(d.Minutes()))
		case d < 24*time.Hour:
			return fmt.Sprintf("%dh ago", int(d.Hours()))
		default:
			return t.Format("Jan 2, 2006")
		}
	},
	"short": func(s string) string {
		if len(s) > 8 {
			return s[:8]
		}
		return s
	},
}

var statusTmpl = template.Must(template.New("status.html").Funcs(tmplFuncs).ParseFS(templateFS, "templates/status.html"))

type statusAgent struct {
	AgentID     string
	ConnID      string
	ConnectedAt time.Time
}

type statusData struct {
	Agents      []statusAgent
	TotalKnown  int
	TotalOnline int
	Uptime      string
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.Registry.Entries()
	agents := make([]statusAgent, len(entries))
	for i, e := range entries {
		agents[i] = statusAgent{
			AgentID:     e.AgentID,
			ConnID:      e.Conn.ID,
			ConnectedAt: e.Conn.ConnectedAt,
		}
	}

	data := statusData{
		Agents: agents,
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.Store != nil {
		total, online, err := s.Store.CountAgents()
		if err == nil {
			data.TotalKnown = total
			data.TotalOnline = online
		}
	}

	statusTmpl.Execute(w, data)
}
