package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/proto"
	"github.com/matst80/rendezvous/internal/tlsconf"
)

func main() {
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		obs.Error("config.invalid", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.EnableDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	peer, err := run(ctx, cfg)
	if err != nil {
		obs.Error("client.failed", obs.Fields{"err": err.Error(), "id": cfg.ID, "refused": IsPeerError(err)})
		stop()
		os.Exit(exitCode(err))
	}
	fmt.Println(peer.String())
}

// PeerError is an ERROR frame sent by the server.
type PeerError string

func (e PeerError) Error() string { return "server: " + string(e) }

// run registers c.ID, optionally asks for an introduction to c.Peer, and
// returns the first peer endpoint the server hands out.
func run(ctx context.Context, c Config) (netip.AddrPort, error) {
	conn, err := dial(ctx, c)
	if err != nil {
		return netip.AddrPort{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := proto.WriteFrame(conn, proto.Open, proto.EncodeID(c.ID)); err != nil {
		return netip.AddrPort{}, err
	}
	obs.Info("client.registering", obs.Fields{"id": c.ID, "server": c.ServerAddr})
	if c.Peer != 0 {
		if err := proto.WriteFrame(conn, proto.Open, proto.EncodeID(c.Peer)); err != nil {
			return netip.AddrPort{}, err
		}
		obs.Info("client.intro.requested", obs.Fields{"peer": c.Peer})
	}

	rd := bufio.NewReader(conn)
	for {
		f, err := proto.ReadFrame(rd)
		if err != nil {
			if ctx.Err() != nil {
				return netip.AddrPort{}, ctx.Err()
			}
			return netip.AddrPort{}, err
		}
		switch f.Type {
		case proto.Open:
			from, err := proto.DecodeID(f.Payload)
			if err != nil {
				return netip.AddrPort{}, err
			}
			obs.Info("client.intro.incoming", obs.Fields{"from": from, "accept": c.Accept})
			if err := proto.WriteFrame(conn, proto.Accept, proto.EncodeAccept(c.Accept)); err != nil {
				return netip.AddrPort{}, err
			}
		case proto.Connect:
			return proto.DecodeEndpoint(f.Payload)
		case proto.Error:
			return netip.AddrPort{}, PeerError(f.Payload)
		case proto.Chat:
			obs.Info("client.chat", obs.Fields{"text": string(f.Payload)})
		default:
			obs.Debug("client.frame.ignored", obs.Fields{"type": f.Type.String()})
		}
	}
}

func dial(ctx context.Context, c Config) (net.Conn, error) {
	d := &net.Dialer{}
	if !c.EnableTLS {
		return d.DialContext(ctx, "tcp4", c.ServerAddr)
	}
	tc, err := tlsconf.Client(tlsconf.Files{Cert: c.TLSCertFile, Key: c.TLSKeyFile, CA: c.TLSCAFile}, c.TLSServerName)
	if err != nil {
		return nil, err
	}
	td := &tls.Dialer{NetDialer: d, Config: tc}
	return td.DialContext(ctx, "tcp4", c.ServerAddr)
}

// exitCode is 2 when the server refused the request and 1 for anything else.
func exitCode(err error) int {
	if IsPeerError(err) {
		return 2
	}
	return 1
}

// IsPeerError reports whether err came from the server rather than the network.
func IsPeerError(err error) bool {
	var pe PeerError
	return errors.As(err, &pe)
}
