package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/rendezvous"
)

func main() {
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		obs.Error("config.invalid", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.EnableDebug(cfg.Debug)
	obs.Info("server.start", obs.Fields{"port": cfg.Port, "gateway": cfg.Gateway, "external": cfg.External, "metrics": cfg.MetricsAddr})

	nat, err := rendezvous.ParseNAT(cfg.Gateway, cfg.External)
	if err != nil {
		obs.Error("config.nat", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	dir, closeDir, err := newDirectory(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ClaimTTL)
	if err != nil {
		obs.Error("directory.init", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	defer func() { _ = closeDir() }()

	srv := rendezvous.NewServer(rendezvous.Config{
		HandshakeTimeout: cfg.HandshakeTimeout,
		NAT:              nat,
		Directory:        dir,
		ConnRate:         cfg.ConnRate,
		IntroRate:        cfg.IntroRate,
		Burst:            cfg.Burst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tlsConfig, err := listenerTLS(&cfg)
	if err != nil {
		obs.Error("tls.config", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	ln, err := createListener(cfg.ListenAddr(), tlsConfig)
	if err != nil {
		obs.Error("listen", obs.Fields{"err": err.Error(), "addr": cfg.ListenAddr()})
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: newMetricsHandler(srv), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": cfg.MetricsAddr})
			}
		}()
	}

	go srv.RunCleanup(ctx, cfg.CleanupInterval)
	if cfg.RedisAddr != "" {
		go srv.Registry().Maintain(ctx, cfg.ClaimTTL/3)
	}

	if err := srv.Serve(ctx, ln); err != nil {
		obs.Error("server.accept", obs.Fields{"err": err.Error()})
	}
	obs.Info("server.shutdown.signal", obs.Fields{})
	srv.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
}
