package rendezvous

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/ratelimit"
	"github.com/matst80/rendezvous/internal/registry"
)

// Config holds the core's runtime settings. The zero value of each field
// falls back to DefaultConfig.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// DirectoryTimeout bounds a single registry directory call.
	DirectoryTimeout time.Duration
	QueueSize        int
	NAT              NAT
	Directory        registry.Directory

	// Rates are per second; 0 disables the limiter.
	ConnRate  int
	IntroRate int
	Burst     int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		DirectoryTimeout: 2 * time.Second,
		QueueSize:        32,
		Burst:            5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DirectoryTimeout <= 0 {
		c.DirectoryTimeout = d.DirectoryTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	return c
}

// Server is the introduction server. All protocol state transitions run
// under mu, one at a time, so a registry lookup and the use of its result
// never interleave with another connection's mutation.
type Server struct {
	cfg Config
	reg *registry.Registry[*Conn]

	mu    sync.Mutex
	conns map[*Conn]struct{}

	connLimit  *ratelimit.Keyed
	introLimit *ratelimit.Keyed

	serial   atomic.Uint64
	wg       sync.WaitGroup
	ready    atomic.Bool
	closing  atomic.Bool
	accepted atomic.Int64
	timeouts atomic.Int64
	intros   atomic.Int64
	connects atomic.Int64
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:        cfg,
		reg:        registry.New[*Conn](cfg.Directory),
		conns:      make(map[*Conn]struct{}),
		connLimit:  ratelimit.NewKeyed(cfg.ConnRate, cfg.Burst),
		introLimit: ratelimit.NewKeyed(cfg.IntroRate, cfg.Burst),
	}
}

// Registry exposes the identifier table.
func (s *Server) Registry() *registry.Registry[*Conn] { return s.reg }

func (s *Server) IsReady() bool   { return s.ready.Load() }
func (s *Server) IsClosing() bool { return s.closing.Load() }

// Serve accepts sockets from ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	s.ready.Store(true)
	obs.Info("server.ready", obs.Fields{"addr": ln.Addr().String(), "nat": s.cfg.NAT.Enabled()})
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("accept.timeout", obs.Fields{"err": err.Error()})
				continue
			}
			return err
		}
		s.accept(nc)
	}
}

func (s *Server) accept(nc net.Conn) {
	c := newConn(s, nc)
	host := c.observed.Addr().String()
	if !s.connLimit.Allow(host) {
		obs.Error("accept.rate_limited", obs.Fields{"remote": c.observed.String()})
		obs.ErrorsTotal.WithLabelValues("conn_rate_limited").Inc()
		_ = nc.Close()
		return
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = nc.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.accepted.Add(1)
	obs.ActiveConnections.Inc()
	obs.Debug("conn.accepted", obs.Fields{"remote": c.observed.String(), "effective": c.effective.String()})
	go c.serve()
}

// release runs once a connection's read loop has ended.
func (s *Server) release(c *Conn) {
	c.Close()

	s.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	id := c.ID()
	if id != 0 {
		ctx, cancel := s.dirContext()
		if s.reg.Deregister(ctx, id, c) {
			obs.Info("conn.closed", obs.Fields{"id": id, "remote": c.observed.String()})
		}
		cancel()
		s.introLimit.Forget(strconv.FormatUint(id, 10))
	}
	delete(s.conns, c)
	s.mu.Unlock()

	obs.ActiveConnections.Dec()
	obs.ConnectionDurationSeconds.Observe(time.Since(c.opened).Seconds())
	s.wg.Done()
}

func (s *Server) dirContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.DirectoryTimeout)
}

// Shutdown stops admitting connections, closes the open ones and waits for
// their goroutines to finish.
func (s *Server) Shutdown() {
	s.closing.Store(true)
	s.mu.Lock()
	open := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
	s.wg.Wait()
	obs.Info("server.shutdown.complete", obs.Fields{"closed": len(open)})
}

// RunCleanup prunes idle rate-limit buckets every interval until ctx ends.
func (s *Server) RunCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := s.connLimit.Prune() + s.introLimit.Prune()
			if n > 0 {
				obs.Debug("ratelimit.prune", obs.Fields{"buckets": n})
			}
		}
	}
}

// Stats is a point-in-time view of the server for dashboards and the state API.
type Stats struct {
	Connections       int      `json:"connections"`
	Registered        int      `json:"registered"`
	IDs               []uint64 `json:"ids"`
	TotalConnections  int64    `json:"total_connections"`
	HandshakeTimeouts int64    `json:"handshake_timeouts"`
	Introductions     int64    `json:"introductions"`
	Connects          int64    `json:"connects"`
	Instance          string   `json:"instance"`
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	open := len(s.conns)
	s.mu.Unlock()
	return Stats{
		Connections:       open,
		Registered:        s.reg.Count(),
		IDs:               s.reg.IDs(),
		TotalConnections:  s.accepted.Load(),
		HandshakeTimeouts: s.timeouts.Load(),
		Introductions:     s.intros.Load(),
		Connects:          s.connects.Load(),
		Instance:          s.reg.Directory().Instance(),
	}
}
