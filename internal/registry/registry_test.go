package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	name  string
	alive bool
}

func (f *fakePeer) Alive() bool { return f.alive }

func TestRegisterUnique(t *testing.T) {
	ctx := context.Background()
	r := New[*fakePeer](nil)
	a := &fakePeer{name: "a", alive: true}
	b := &fakePeer{name: "b", alive: true}

	require.NoError(t, r.Register(ctx, 1, a))
	err := r.Register(ctx, 1, b)
	assert.ErrorIs(t, err, ErrTaken)

	got, st := r.Lookup(ctx, 1)
	assert.Equal(t, Live, st)
	assert.Same(t, a, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterReservedZero(t *testing.T) {
	r := New[*fakePeer](nil)
	err := r.Register(context.Background(), 0, &fakePeer{alive: true})
	assert.ErrorIs(t, err, ErrReserved)
	assert.Equal(t, 0, r.Count())
}

func TestLookupAbsentAndExpired(t *testing.T) {
	ctx := context.Background()
	r := New[*fakePeer](nil)

	got, st := r.Lookup(ctx, 9)
	assert.Equal(t, Absent, st)
	assert.Nil(t, got)

	p := &fakePeer{alive: true}
	require.NoError(t, r.Register(ctx, 9, p))
	p.alive = false
	_, st = r.Lookup(ctx, 9)
	assert.Equal(t, Expired, st)
}

func TestDeregisterOnlyByHolder(t *testing.T) {
	ctx := context.Background()
	r := New[*fakePeer](nil)
	a := &fakePeer{alive: true}
	b := &fakePeer{alive: true}
	require.NoError(t, r.Register(ctx, 5, a))

	assert.False(t, r.Deregister(ctx, 5, b))
	_, st := r.Lookup(ctx, 5)
	assert.Equal(t, Live, st)

	assert.True(t, r.Deregister(ctx, 5, a))
	_, st = r.Lookup(ctx, 5)
	assert.Equal(t, Absent, st)
	assert.False(t, r.Deregister(ctx, 5, a))

	// the identifier is free again
	require.NoError(t, r.Register(ctx, 5, b))
}

func TestIDsSorted(t *testing.T) {
	ctx := context.Background()
	r := New[*fakePeer](nil)
	for _, id := range []uint64{30, 10, 20} {
		require.NoError(t, r.Register(ctx, id, &fakePeer{alive: true}))
	}
	assert.Equal(t, []uint64{10, 20, 30}, r.IDs())
}

func newRedisDirectory(t *testing.T, mr *miniredis.Miniredis) *RedisDirectory {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisDirectoryFromClient(rdb, time.Minute)
}

func TestRedisDirectoryAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	d1 := newRedisDirectory(t, mr)
	d2 := newRedisDirectory(t, mr)
	d2.instanceID = d1.instanceID + "-other"

	r1 := New[*fakePeer](d1)
	r2 := New[*fakePeer](d2)

	p := &fakePeer{alive: true}
	require.NoError(t, r1.Register(ctx, 42, p))
	assert.ErrorIs(t, r2.Register(ctx, 42, &fakePeer{alive: true}), ErrTaken)

	_, st := r2.Lookup(ctx, 42)
	assert.Equal(t, Remote, st)
	_, st = r1.Lookup(ctx, 42)
	assert.Equal(t, Live, st)

	owner, err := d2.Owner(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, d1.Instance(), owner)

	require.True(t, r1.Deregister(ctx, 42, p))
	assert.False(t, mr.Exists(key(42)))
	require.NoError(t, r2.Register(ctx, 42, &fakePeer{alive: true}))
}

func TestRedisDirectoryReleaseKeepsForeignClaim(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	d := newRedisDirectory(t, mr)

	require.NoError(t, mr.Set(key(7), "someone-else"))
	require.NoError(t, d.Release(ctx, 7))
	v, err := mr.Get(key(7))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestRedisDirectoryRefreshAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	d := newRedisDirectory(t, mr)

	ok, err := d.Claim(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Claim(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Second)
	require.NoError(t, d.Refresh(ctx, []uint64{3}))
	mr.FastForward(30 * time.Second)

	assert.True(t, mr.Exists(key(3)))
	assert.False(t, mr.Exists(key(4)))

	owner, err := d.Owner(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestRedisDirectoryUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	d := newRedisDirectory(t, mr)
	mr.Close()

	r := New[*fakePeer](d)
	err := r.Register(context.Background(), 1, &fakePeer{alive: true})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTaken)
	assert.Equal(t, 0, r.Count())
}

func TestRegisterReclaimsOwnStaleClaim(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	d := newRedisDirectory(t, mr)
	r := New[*fakePeer](d)

	p := &fakePeer{alive: true}
	require.NoError(t, r.Register(ctx, 9, p))

	// the release fails and leaves this instance's claim behind
	mr.SetError("LOADING Redis is loading the dataset in memory")
	require.True(t, r.Deregister(ctx, 9, p))
	mr.SetError("")
	require.True(t, mr.Exists(key(9)))

	_, st := r.Lookup(ctx, 9)
	assert.Equal(t, Absent, st)

	mr.FastForward(40 * time.Second)
	q := &fakePeer{alive: true}
	require.NoError(t, r.Register(ctx, 9, q))
	got, st := r.Lookup(ctx, 9)
	assert.Equal(t, Live, st)
	assert.Same(t, q, got)
	assert.Equal(t, time.Minute, mr.TTL(key(9)))
}

func TestRegisterDoesNotReclaimForeignClaim(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	r := New[*fakePeer](newRedisDirectory(t, mr))

	require.NoError(t, mr.Set(key(9), "someone-else"))
	assert.ErrorIs(t, r.Register(ctx, 9, &fakePeer{alive: true}), ErrTaken)
	v, err := mr.Get(key(9))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}
