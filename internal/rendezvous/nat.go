package rendezvous

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// NAT substitutes the server's public address for clients that appear to come
// from the LAN-side gateway, so two clients behind the server's own NAT still
// learn an address the other can dial.
type NAT struct {
	Gateway  netip.Addr
	External netip.Addr
}

// ParseNAT builds a NAT from the -gateway/-external flags. Both or neither must be set.
func ParseNAT(gateway, external string) (NAT, error) {
	if gateway == "" && external == "" {
		return NAT{}, nil
	}
	if gateway == "" || external == "" {
		return NAT{}, errors.New("gateway and external addresses must be set together")
	}
	gw, err := netip.ParseAddr(gateway)
	if err != nil {
		return NAT{}, fmt.Errorf("gateway address: %w", err)
	}
	ext, err := netip.ParseAddr(external)
	if err != nil {
		return NAT{}, fmt.Errorf("external address: %w", err)
	}
	return NAT{Gateway: gw.Unmap(), External: ext.Unmap()}, nil
}

func (n NAT) Enabled() bool { return n.Gateway.IsValid() && n.External.IsValid() }

// Effective returns the endpoint to report for a client observed at observed.
// The gateway and external endpoints take the observed port.
func (n NAT) Effective(observed netip.AddrPort) netip.AddrPort {
	if !n.Enabled() {
		return observed
	}
	gateway := netip.AddrPortFrom(n.Gateway, observed.Port())
	if netip.AddrPortFrom(observed.Addr().Unmap(), observed.Port()) == gateway {
		return netip.AddrPortFrom(n.External, observed.Port())
	}
	return observed
}

func addrPortOf(a net.Addr) netip.AddrPort {
	if tcp, ok := a.(*net.TCPAddr); ok {
		ap := tcp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	if a == nil {
		return netip.AddrPort{}
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
