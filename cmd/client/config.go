package main

import (
	"errors"
	"flag"
	"time"
)

// Config holds client runtime configuration.
type Config struct {
	ServerAddr string
	ID         uint64
	Peer       uint64
	Accept     bool
	Timeout    time.Duration
	Debug      bool

	// TLS to the server
	EnableTLS     bool
	TLSCAFile     string
	TLSCertFile   string
	TLSKeyFile    string
	TLSServerName string
}

var cfg Config

// init registers all client flags into the default flag set.
func init() {
	registerFlags(flag.CommandLine, &cfg)
}

func registerFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.ServerAddr, "server", "127.0.0.1:2738", "rendezvous server address")
	fs.Uint64Var(&c.ID, "id", 0, "identifier to register (required, nonzero)")
	fs.Uint64Var(&c.Peer, "peer", 0, "identifier to request an introduction to (0 = wait to be contacted)")
	fs.BoolVar(&c.Accept, "accept", true, "accept incoming introduction requests")
	fs.DurationVar(&c.Timeout, "timeout", 0, "give up waiting for a peer after this long (0 = wait forever)")
	fs.BoolVar(&c.Debug, "debug", false, "enable debug logs")
	fs.BoolVar(&c.EnableTLS, "tls", false, "connect to the server over TLS")
	fs.StringVar(&c.TLSCAFile, "tls-ca", "", "CA file to verify the server (default: system roots)")
	fs.StringVar(&c.TLSCertFile, "tls-cert", "", "client certificate for servers that require one")
	fs.StringVar(&c.TLSKeyFile, "tls-key", "", "client private key")
	fs.StringVar(&c.TLSServerName, "tls-server-name", "", "expected server name (default: host of -server)")
}

func (c *Config) Validate() error {
	if c.ID == 0 {
		return errors.New("-id is required and must be nonzero")
	}
	if c.Peer == c.ID {
		return errors.New("-peer must differ from -id")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("-tls-cert and -tls-key must be set together")
	}
	return nil
}
