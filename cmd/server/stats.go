package main

import (
	"time"

	"github.com/matst80/rendezvous/internal/rendezvous"
)

// Stats represents current server stats for dashboards & API.
type Stats struct {
	rendezvous.Stats
	Now string `json:"now"`
}

func collectStats(srv *rendezvous.Server) Stats {
	return Stats{Stats: srv.Stats(), Now: time.Now().UTC().Format(time.RFC3339)}
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Connections":   s.Connections,
		"Registered":    s.Registered,
		"IDs":           s.IDs,
		"Total":         s.TotalConnections,
		"Timeouts":      s.HandshakeTimeouts,
		"Introductions": s.Introductions,
		"Connects":      s.Connects,
		"Instance":      s.Instance,
	}
}
