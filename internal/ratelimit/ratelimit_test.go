package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func TestTokenBucket(t *testing.T) {
	clk := newClock()
	bucket := newTokenBucket(2, 5, clk.now) // 2 tokens per second, capacity of 5

	for i := 0; i < 5; i++ {
		assert.True(t, bucket.Allow(), "initial request %d", i)
	}
	assert.False(t, bucket.Allow(), "bucket should be empty")

	clk.advance(1100 * time.Millisecond)
	assert.True(t, bucket.Allow())
	assert.True(t, bucket.Allow())
	assert.False(t, bucket.Allow(), "only two tokens refilled")

	clk.advance(time.Hour)
	for i := 0; i < 5; i++ {
		assert.True(t, bucket.Allow(), "refill is capped at capacity")
	}
	assert.False(t, bucket.Allow())
}

func TestKeyedSeparateKeys(t *testing.T) {
	clk := newClock()
	k := newKeyed(1, 3, clk.now)

	for i := 0; i < 3; i++ {
		assert.True(t, k.Allow("10.0.0.1"), "burst %d", i)
	}
	assert.False(t, k.Allow("10.0.0.1"))
	assert.True(t, k.Allow("10.0.0.2"), "other keys have their own bucket")
	assert.Equal(t, 2, k.Len())
}

func TestKeyedPrune(t *testing.T) {
	clk := newClock()
	k := newKeyed(1, 2, clk.now)

	k.Allow("a")
	k.Allow("a")
	k.Allow("b")
	assert.Equal(t, 0, k.Prune())

	clk.advance(1 * time.Second)
	assert.Equal(t, 1, k.Prune(), "b refilled, a still owes a token")
	assert.Equal(t, 1, k.Len())

	clk.advance(1 * time.Second)
	assert.Equal(t, 1, k.Prune())
	assert.Equal(t, 0, k.Len())
}

func TestKeyedForget(t *testing.T) {
	clk := newClock()
	k := newKeyed(1, 1, clk.now)
	assert.True(t, k.Allow("7"))
	assert.False(t, k.Allow("7"))
	k.Forget("7")
	assert.True(t, k.Allow("7"))
}

func TestKeyedDisabled(t *testing.T) {
	k := NewKeyed(0, 5)
	for i := 0; i < 100; i++ {
		assert.True(t, k.Allow("client"), "request %d", i)
	}
	assert.Equal(t, 0, k.Len())

	var nilKeyed *Keyed
	assert.True(t, nilKeyed.Allow("x"))
	assert.Equal(t, 0, nilKeyed.Prune())
}
