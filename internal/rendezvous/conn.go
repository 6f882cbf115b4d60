package rendezvous

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/proto"
)

type connState int32

const (
	awaitingRegistration connState = iota
	// stalled connections sent something other than OPEN first. They never
	// register and wait out the handshake timer.
	stalled
	registered
	// rejected connections lost the registration race; they flush their
	// ERROR and close.
	rejected
	closed
)

func (s connState) String() string {
	switch s {
	case awaitingRegistration:
		return "awaiting_registration"
	case stalled:
		return "stalled"
	case registered:
		return "registered"
	case rejected:
		return "rejected"
	}
	return "closed"
}

// peerRef names a connection without keeping it alive. It resolves through
// the registry and only matches the same connection instance.
type peerRef struct {
	id     uint64
	serial uint64
}

// Conn is one accepted client socket.
type Conn struct {
	srv       *Server
	nc        net.Conn
	serial    uint64
	observed  netip.AddrPort
	effective netip.AddrPort
	opened    time.Time

	state atomic.Int32
	// id is zero until registration and then never changes.
	id atomic.Uint64

	// guarded by srv.mu
	pending *peerRef
	timer   *time.Timer

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(s *Server, nc net.Conn) *Conn {
	observed := addrPortOf(nc.RemoteAddr())
	return &Conn{
		srv:       s,
		nc:        nc,
		serial:    s.serial.Add(1),
		observed:  observed,
		effective: s.cfg.NAT.Effective(observed),
		opened:    time.Now(),
		out:       make(chan []byte, s.cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// Alive reports whether the socket is still open.
func (c *Conn) Alive() bool { return c.loadState() != closed }

func (c *Conn) loadState() connState { return connState(c.state.Load()) }

// transition moves the state machine forward unless the socket closed first.
func (c *Conn) transition(from, to connState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Conn) ref() *peerRef { return &peerRef{id: c.ID(), serial: c.serial} }

// ID returns the registered identifier, 0 before registration.
func (c *Conn) ID() uint64 { return c.id.Load() }

func (c *Conn) Observed() netip.AddrPort { return c.observed }

// Effective is the endpoint reported to peers after gateway substitution.
func (c *Conn) Effective() netip.AddrPort { return c.effective }

// Close tears the socket down; the read loop then runs cleanup.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(closed))
		close(c.done)
		_ = c.nc.Close()
	})
}

// send queues a frame for the writer. A full queue means the client is not
// reading and the connection is dropped.
func (c *Conn) send(t proto.MessageType, payload []byte) error {
	b, err := proto.Encode(t, payload)
	if err != nil {
		return err
	}
	if !c.Alive() {
		return net.ErrClosed
	}
	select {
	case c.out <- b:
		obs.FramesTotal.WithLabelValues("out", t.String()).Inc()
		return nil
	default:
		obs.Error("conn.queue_full", obs.Fields{"id": c.ID(), "remote": c.observed.String()})
		obs.ErrorsTotal.WithLabelValues("queue_full").Inc()
		c.Close()
		return errors.New("write queue full")
	}
}

func (c *Conn) sendError(msg string) {
	if err := c.send(proto.Error, []byte(msg)); err != nil {
		obs.Debug("conn.send_error", obs.Fields{"err": err.Error(), "id": c.ID()})
	}
}

// closeAfterFlush closes the socket once everything queued so far is written.
func (c *Conn) closeAfterFlush() {
	select {
	case c.out <- nil:
	default:
		c.Close()
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			if b == nil {
				c.Close()
				return
			}
			_ = c.nc.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if _, err := c.nc.Write(b); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					obs.Error("conn.write", obs.Fields{"err": err.Error(), "id": c.ID(), "remote": c.observed.String()})
					obs.ErrorsTotal.WithLabelValues("write").Inc()
				}
				c.Close()
				return
			}
		}
	}
}

// serve runs the handshake and post-handshake read loop until the socket closes.
func (c *Conn) serve() {
	defer c.srv.release(c)
	go c.writeLoop()

	c.srv.mu.Lock()
	c.timer = time.AfterFunc(c.srv.cfg.HandshakeTimeout, c.handshakeExpired)
	c.srv.mu.Unlock()

	rd := bufio.NewReader(c.nc)
	for {
		h, err := proto.ReadHeader(rd)
		if err != nil {
			c.logReadErr(err)
			return
		}
		if !h.WellFormed() {
			obs.Debug("conn.frame.discard", obs.Fields{"id": c.ID(), "type": h.Type.String(), "len": h.Length})
			obs.ErrorsTotal.WithLabelValues("malformed_frame").Inc()
			if err := proto.Discard(rd, h); err != nil {
				c.logReadErr(err)
				return
			}
			continue
		}
		payload, err := proto.ReadPayload(rd, h)
		if err != nil {
			c.logReadErr(err)
			return
		}
		obs.FramesTotal.WithLabelValues("in", h.Type.String()).Inc()
		c.srv.dispatch(c, proto.Frame{Type: h.Type, Payload: payload})
	}
}

func (c *Conn) handshakeExpired() {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if st := c.loadState(); st != awaitingRegistration && st != stalled {
		return
	}
	obs.Info("handshake.timeout", obs.Fields{"remote": c.observed.String(), "after": c.srv.cfg.HandshakeTimeout.String()})
	obs.HandshakeTimeoutTotal.Inc()
	c.srv.timeouts.Add(1)
	c.Close()
}

func (c *Conn) logReadErr(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || !c.Alive() {
		return
	}
	obs.Error("conn.read", obs.Fields{"err": err.Error(), "id": c.ID(), "remote": c.observed.String()})
	obs.ErrorsTotal.WithLabelValues("read").Inc()
}
