package main

import (
	"crypto/tls"
	"net"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/tlsconf"
)

// listenerTLS returns nil when -tls is off.
func listenerTLS(cfg *Config) (*tls.Config, error) {
	if !cfg.EnableTLS {
		return nil, nil
	}
	c, err := tlsconf.Server(tlsconf.Files{Cert: cfg.TLSCertFile, Key: cfg.TLSKeyFile, CA: cfg.TLSCAFile})
	if err != nil {
		return nil, err
	}
	obs.Info("tls.enabled", obs.Fields{"client_certs": cfg.TLSCAFile != ""})
	return c, nil
}

// createListener creates either a plain TCP or TLS listener based on tlsConfig.
// The protocol only carries IPv4 endpoints, so the listener is tcp4.
func createListener(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	if tlsConfig == nil {
		return net.Listen("tcp4", addr)
	}
	return tls.Listen("tcp4", addr, tlsConfig)
}
