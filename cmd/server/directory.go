package main

import (
	"time"

	"github.com/matst80/rendezvous/internal/obs"
	"github.com/matst80/rendezvous/internal/registry"
)

// newDirectory creates either an in-memory or Redis-backed identifier directory.
// The returned close func releases the backend.
func newDirectory(redisAddr, redisPassword string, redisDB int, ttl time.Duration) (registry.Directory, func() error, error) {
	if redisAddr == "" {
		obs.Info("directory.backend", obs.Fields{"type": "in-memory"})
		return registry.NewMemoryDirectory(), func() error { return nil }, nil
	}
	obs.Info("directory.backend", obs.Fields{"type": "redis", "addr": redisAddr, "ttl": ttl.String()})
	d, err := registry.NewRedisDirectory(redisAddr, redisPassword, redisDB, ttl)
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}
