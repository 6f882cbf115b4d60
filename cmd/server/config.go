package main

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config holds all runtime configuration derived from flags.
type Config struct {
	Port             int
	Gateway          string
	External         string
	HandshakeTimeout time.Duration
	MetricsAddr      string
	Debug            bool
	// Redis-backed identifier directory; empty RedisAddr keeps it in memory.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ClaimTTL        time.Duration
	ConnRate        int
	IntroRate       int
	Burst           int
	CleanupInterval time.Duration
	// TLS for client connections
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string
	EnableTLS   bool
}

const defaultPort = 2738

var cfg Config

func init() {
	registerFlags(flag.CommandLine, &cfg)
}

func registerFlags(fs *flag.FlagSet, c *Config) {
	fs.IntVar(&c.Port, "port", defaultPort, "port to listen on for clients (must be > 1023)")
	fs.StringVar(&c.Gateway, "gateway", "", "LAN-side NAT gateway address; clients seen from it are reported with -external")
	fs.StringVar(&c.External, "external", "", "public address reported in place of -gateway")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", 10*time.Second, "time a client has to register its identifier")
	fs.StringVar(&c.MetricsAddr, "metrics", ":9100", "metrics and health listen address (empty disables)")
	fs.BoolVar(&c.Debug, "debug", false, "enable debug logs")
	fs.StringVar(&c.RedisAddr, "redis", "", "redis address for a shared identifier directory (empty = in-memory)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database")
	fs.DurationVar(&c.ClaimTTL, "claim-ttl", 2*time.Minute, "lifetime of an identifier claim in redis between refreshes")
	fs.IntVar(&c.ConnRate, "conn-rate", 0, "new connections per second per remote address (0 = unlimited)")
	fs.IntVar(&c.IntroRate, "intro-rate", 0, "introduction requests per second per identifier (0 = unlimited)")
	fs.IntVar(&c.Burst, "burst", 5, "burst size for -conn-rate and -intro-rate")
	fs.DurationVar(&c.CleanupInterval, "cleanup-interval", time.Minute, "interval for pruning idle rate-limit state")
	fs.BoolVar(&c.EnableTLS, "tls", false, "enable TLS for client connections")
	fs.StringVar(&c.TLSCertFile, "tls-cert", "", "TLS certificate file path")
	fs.StringVar(&c.TLSKeyFile, "tls-key", "", "TLS private key file path")
	fs.StringVar(&c.TLSCAFile, "tls-ca", "", "TLS CA file for client certificate verification (enables mTLS)")
}

// Validate checks the settings that flag parsing alone cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 1023 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range, must be 1024-65535", c.Port))
	}
	if (c.Gateway == "") != (c.External == "") {
		errs = append(errs, errors.New("-gateway and -external must be given together"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("-handshake-timeout must be positive"))
	}
	if c.RedisAddr != "" && c.ClaimTTL < 3*time.Second {
		errs = append(errs, errors.New("-claim-ttl must be at least 3s"))
	}
	if c.EnableTLS && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		errs = append(errs, errors.New("-tls requires -tls-cert and -tls-key"))
	}
	return errors.Join(errs...)
}

// ListenAddr is the client listener address.
func (c *Config) ListenAddr() string { return fmt.Sprintf(":%d", c.Port) }
