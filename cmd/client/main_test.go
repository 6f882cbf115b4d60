package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/rendezvous/internal/registry"
	"github.com/matst80/rendezvous/internal/rendezvous"
	"github.com/matst80/rendezvous/internal/tlsconf"
	"github.com/matst80/rendezvous/internal/tlsconf/tlsconftest"
)

func startServer(t *testing.T) (*rendezvous.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	return serve(t, ln)
}

func serve(t *testing.T, ln net.Listener) (*rendezvous.Server, string) {
	t.Helper()
	srv := rendezvous.NewServer(rendezvous.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})
	return srv, ln.Addr().String()
}

type result struct {
	ep  netip.AddrPort
	err error
}

func TestRunIntroduction(t *testing.T) {
	srv, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	waiting := make(chan result, 1)
	go func() {
		ep, err := run(ctx, Config{ServerAddr: addr, ID: 2, Accept: true})
		waiting <- result{ep, err}
	}()
	require.Eventually(t, func() bool {
		_, st := srv.Registry().Lookup(ctx, 2)
		return st == registry.Live
	}, 2*time.Second, 5*time.Millisecond)

	ep, err := run(ctx, Config{ServerAddr: addr, ID: 1, Peer: 2})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ep.Addr().String())

	r := <-waiting
	require.NoError(t, r.err)
	assert.Equal(t, "127.0.0.1", r.ep.Addr().String())
	assert.NotEqual(t, ep.Port(), r.ep.Port())
}

func TestRunOverMutualTLS(t *testing.T) {
	b := tlsconftest.Generate(t)
	srvCfg, err := tlsconf.Server(b.Server)
	require.NoError(t, err)
	ln, err := tls.Listen("tcp4", "127.0.0.1:0", srvCfg)
	require.NoError(t, err)
	srv, addr := serve(t, ln)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	withTLS := func(c Config) Config {
		c.EnableTLS = true
		c.TLSCAFile = b.Client.CA
		c.TLSCertFile = b.Client.Cert
		c.TLSKeyFile = b.Client.Key
		return c
	}
	waiting := make(chan result, 1)
	go func() {
		ep, err := run(ctx, withTLS(Config{ServerAddr: addr, ID: 2, Accept: true}))
		waiting <- result{ep, err}
	}()
	require.Eventually(t, func() bool {
		_, st := srv.Registry().Lookup(ctx, 2)
		return st == registry.Live
	}, 2*time.Second, 5*time.Millisecond)

	ep, err := run(ctx, withTLS(Config{ServerAddr: addr, ID: 1, Peer: 2}))
	require.NoError(t, err)
	r := <-waiting
	require.NoError(t, r.err)
	assert.Equal(t, "127.0.0.1", ep.Addr().String())
	assert.Equal(t, "127.0.0.1", r.ep.Addr().String())

	// no client certificate
	_, err = run(ctx, Config{ServerAddr: addr, ID: 3, EnableTLS: true, TLSCAFile: b.Client.CA})
	assert.Error(t, err)
	assert.False(t, IsPeerError(err))
}

func TestRunUnknownPeer(t *testing.T) {
	_, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := run(ctx, Config{ServerAddr: addr, ID: 1, Peer: 99})
	require.Error(t, err)
	assert.True(t, IsPeerError(err))
	assert.Contains(t, err.Error(), "Peer ID 99 not found")
	assert.Equal(t, 2, exitCode(err))
	assert.Equal(t, 1, exitCode(context.Canceled))
}

func TestRunCancelled(t *testing.T) {
	_, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := run(ctx, Config{ServerAddr: addr, ID: 5})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{ID: 3, Peer: 3}).Validate())
	assert.NoError(t, (&Config{ID: 3, Peer: 4}).Validate())
	assert.NoError(t, (&Config{ID: 3}).Validate())
	assert.Error(t, (&Config{ID: 3, TLSCertFile: "client.pem"}).Validate())
}
