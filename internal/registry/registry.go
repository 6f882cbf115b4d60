package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matst80/rendezvous/internal/obs"
)

var (
	ErrTaken    = errors.New("identifier already registered")
	ErrReserved = errors.New("identifier is reserved")
)

// Peer is anything the registry can hold. Alive reports whether the holder
// is still usable; a dead holder that has not deregistered yet is Expired.
type Peer interface {
	comparable
	Alive() bool
}

// Status is the outcome of a Lookup.
type Status int

const (
	Absent Status = iota
	Live
	Expired
	// Remote means another instance holds the identifier.
	Remote
)

func (s Status) String() string {
	switch s {
	case Live:
		return "live"
	case Expired:
		return "expired"
	case Remote:
		return "remote"
	}
	return "absent"
}

// Registry maps identifiers to the peer currently holding them. It does not
// own its peers: entries exist only between a successful Register and the
// holder's Deregister.
type Registry[P Peer] struct {
	mu    sync.RWMutex
	peers map[uint64]P
	dir   Directory
}

func New[P Peer](dir Directory) *Registry[P] {
	if dir == nil {
		dir = NewMemoryDirectory()
	}
	return &Registry[P]{peers: make(map[uint64]P), dir: dir}
}

// Register inserts p under id unless id is reserved or already held here or
// on another instance.
func (r *Registry[P]) Register(ctx context.Context, id uint64, p P) error {
	if id == 0 {
		return ErrReserved
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[id]; exists {
		return fmt.Errorf("%w: %d", ErrTaken, id)
	}
	ok, err := r.dir.Claim(ctx, id)
	if err != nil {
		return fmt.Errorf("claim %d: %w", id, err)
	}
	if !ok {
		if err := r.reclaim(ctx, id); err != nil {
			return err
		}
	}
	r.peers[id] = p
	obs.RegisteredPeers.Set(float64(len(r.peers)))
	return nil
}

// reclaim takes over a claim on id that this instance still holds in the
// directory without a local entry, which happens when a Release failed. The
// claim's TTL is renewed for the new holder. Called with r.mu held.
func (r *Registry[P]) reclaim(ctx context.Context, id uint64) error {
	owner, err := r.dir.Owner(ctx, id)
	if err != nil {
		return fmt.Errorf("owner %d: %w", id, err)
	}
	if owner != r.dir.Instance() {
		return fmt.Errorf("%w: %d", ErrTaken, id)
	}
	if err := r.dir.Refresh(ctx, []uint64{id}); err != nil {
		return fmt.Errorf("refresh %d: %w", id, err)
	}
	obs.Info("registry.reclaimed", obs.Fields{"id": id})
	return nil
}

// Lookup returns the holder of id and whether it is usable.
func (r *Registry[P]) Lookup(ctx context.Context, id uint64) (P, Status) {
	r.mu.RLock()
	p, ok := r.peers[id]
	r.mu.RUnlock()
	if ok {
		if p.Alive() {
			return p, Live
		}
		return p, Expired
	}
	var zero P
	owner, err := r.dir.Owner(ctx, id)
	if err != nil {
		obs.Error("registry.owner", obs.Fields{"err": err.Error(), "id": id})
		return zero, Absent
	}
	if owner != "" && owner != r.dir.Instance() {
		return zero, Remote
	}
	return zero, Absent
}

// Deregister removes id if it is still held by p.
func (r *Registry[P]) Deregister(ctx context.Context, id uint64, p P) bool {
	r.mu.Lock()
	cur, ok := r.peers[id]
	if !ok || cur != p {
		r.mu.Unlock()
		return false
	}
	delete(r.peers, id)
	obs.RegisteredPeers.Set(float64(len(r.peers)))
	r.mu.Unlock()
	if err := r.dir.Release(ctx, id); err != nil {
		obs.Error("registry.release", obs.Fields{"err": err.Error(), "id": id})
	}
	return true
}

func (r *Registry[P]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IDs returns the registered identifiers in ascending order.
func (r *Registry[P]) IDs() []uint64 {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Directory returns the claim backend.
func (r *Registry[P]) Directory() Directory { return r.dir }

// Maintain refreshes this instance's directory claims every interval until ctx ends.
func (r *Registry[P]) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := r.IDs()
			if err := r.dir.Refresh(ctx, ids); err != nil {
				obs.Error("registry.refresh", obs.Fields{"err": err.Error(), "ids": len(ids)})
				obs.ErrorsTotal.WithLabelValues("directory_refresh").Inc()
				continue
			}
			obs.Debug("registry.refresh", obs.Fields{"ids": len(ids)})
		}
	}
}
