package rendezvous

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/proto"
	"github.com/matst80/rendezvous/internal/registry"
)

// dispatch applies one inbound frame to c's state machine.
func (s *Server) dispatch(c *Conn, f proto.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c.loadState() {
	case awaitingRegistration:
		if f.Type != proto.Open {
			obs.Debug("handshake.stalled", obs.Fields{"remote": c.observed.String(), "type": f.Type.String()})
			c.transition(awaitingRegistration, stalled)
			return
		}
		s.handleRegister(c, f.Payload)
	case stalled:
		obs.Debug("handshake.ignored", obs.Fields{"remote": c.observed.String(), "type": f.Type.String()})
	case registered:
		switch f.Type {
		case proto.Open:
			s.handleIntroduction(c, f.Payload)
		case proto.Accept:
			s.handleAccept(c, f.Payload)
		default:
			obs.Debug("conn.ignored", obs.Fields{"id": c.ID(), "type": f.Type.String()})
		}
	}
}

func (s *Server) handleRegister(c *Conn, payload []byte) {
	id, err := proto.DecodeID(payload)
	if err != nil {
		return
	}
	c.timer.Stop()

	ctx, cancel := s.dirContext()
	err = s.reg.Register(ctx, id, c)
	cancel()
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, registry.ErrTaken):
			msg = fmt.Sprintf("ID %d already registered", id)
			obs.RegistrationConflictsTotal.Inc()
		case errors.Is(err, registry.ErrReserved):
			msg = "ID 0 is reserved"
			obs.ErrorsTotal.WithLabelValues("reserved_id").Inc()
		default:
			msg = "Registration unavailable"
			obs.Error("registry.register", obs.Fields{"err": err.Error(), "id": id})
			obs.ErrorsTotal.WithLabelValues("directory").Inc()
		}
		obs.Info("conn.rejected", obs.Fields{"id": id, "remote": c.observed.String(), "reason": msg})
		if c.transition(awaitingRegistration, rejected) {
			c.sendError(msg)
			c.closeAfterFlush()
		}
		return
	}
	c.id.Store(id)
	if !c.transition(awaitingRegistration, registered) {
		// closed underneath us; release deregisters
		return
	}
	obs.Info("conn.registered", obs.Fields{"id": id, "remote": c.observed.String(), "effective": c.effective.String()})
}

func (s *Server) handleIntroduction(c *Conn, payload []byte) {
	target, err := proto.DecodeID(payload)
	if err != nil {
		return
	}
	if !s.introLimit.Allow(strconv.FormatUint(c.ID(), 10)) {
		obs.ErrorsTotal.WithLabelValues("intro_rate_limited").Inc()
		c.sendError("Rate limit exceeded")
		return
	}

	ctx, cancel := s.dirContext()
	peer, st := s.reg.Lookup(ctx, target)
	cancel()
	switch st {
	case registry.Absent:
		obs.IntroductionsTotal.WithLabelValues("not_found").Inc()
		c.sendError(fmt.Sprintf("Peer ID %d not found", target))
	case registry.Remote:
		obs.IntroductionsTotal.WithLabelValues("remote").Inc()
		c.sendError(fmt.Sprintf("Peer ID %d is registered on another server", target))
	case registry.Expired:
		obs.IntroductionsTotal.WithLabelValues("expired").Inc()
		c.sendError("Peer expired")
	case registry.Live:
		peer.pending = c.ref()
		if err := peer.send(proto.Open, proto.EncodeID(c.ID())); err != nil {
			obs.Debug("intro.forward", obs.Fields{"err": err.Error(), "from": c.ID(), "to": target})
		}
		s.intros.Add(1)
		obs.IntroductionsTotal.WithLabelValues("requested").Inc()
		obs.Info("intro.requested", obs.Fields{"from": c.ID(), "to": target})
	}
}

func (s *Server) handleAccept(c *Conn, payload []byte) {
	ok, err := proto.DecodeAccept(payload)
	if err != nil {
		return
	}
	ref := c.pending
	c.pending = nil

	requester := s.resolve(ref)
	if requester == nil {
		obs.IntroductionsTotal.WithLabelValues("stale").Inc()
		c.sendError("Peer disconnected or no connection requested")
		return
	}
	if !ok {
		obs.IntroductionsTotal.WithLabelValues("rejected").Inc()
		obs.Info("intro.rejected", obs.Fields{"from": requester.ID(), "to": c.ID()})
		return
	}

	toRequester, err1 := proto.EncodeEndpoint(c.Effective())
	toAccepter, err2 := proto.EncodeEndpoint(requester.Effective())
	if err := errors.Join(err1, err2); err != nil {
		obs.IntroductionsTotal.WithLabelValues("unsupported").Inc()
		obs.Error("intro.endpoint", obs.Fields{"err": err.Error(), "from": requester.ID(), "to": c.ID()})
		c.sendError("IPv6 peers are not supported")
		return
	}
	_ = c.send(proto.Connect, toAccepter)
	_ = requester.send(proto.Connect, toRequester)
	s.connects.Add(1)
	obs.IntroductionsTotal.WithLabelValues("accepted").Inc()
	obs.Info("intro.accepted", obs.Fields{
		"from": requester.ID(), "from_endpoint": requester.Effective().String(),
		"to": c.ID(), "to_endpoint": c.Effective().String(),
	})
}

// resolve turns a pending reference back into a live connection, or nil if
// that connection is gone or its identifier now belongs to someone else.
func (s *Server) resolve(ref *peerRef) *Conn {
	if ref == nil {
		return nil
	}
	ctx, cancel := s.dirContext()
	defer cancel()
	peer, st := s.reg.Lookup(ctx, ref.id)
	if st != registry.Live || peer.serial != ref.serial {
		return nil
	}
	return peer
}
