package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections          = promauto.NewGauge(prometheus.GaugeOpts{Name: "rendezvous_active_connections", Help: "Open client sockets"})
	RegisteredPeers            = promauto.NewGauge(prometheus.GaugeOpts{Name: "rendezvous_registered_peers", Help: "Connections holding an identifier"})
	HandshakeTimeoutTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "rendezvous_handshake_timeout_total", Help: "Connections closed before registering"})
	RegistrationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "rendezvous_registration_conflicts_total", Help: "Handshakes rejected because the identifier was taken"})
	IntroductionsTotal         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rendezvous_introductions_total", Help: "Introduction outcomes"}, []string{"result"})
	FramesTotal                = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rendezvous_frames_total", Help: "Frames by direction and type"}, []string{"direction", "type"})
	ErrorsTotal                = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rendezvous_errors_total", Help: "Errors by type"}, []string{"type"})
	ConnectionDurationSeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "rendezvous_connection_duration_seconds", Help: "Client connection lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
