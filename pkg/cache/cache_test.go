package cache

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T, opts ...MemoryOption) (*MemoryCache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(append([]MemoryOption{WithMemoryCleanup(0)}, opts...)...)
	mc.now = clk.now
	t.Cleanup(func() { _ = mc.Close() })
	return mc, clk
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	mc, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", payload{ID: "x", Score: 0.5}, time.Minute))
	var got payload
	require.NoError(t, mc.Get(ctx, "a", &got))
	assert.Equal(t, payload{ID: "x", Score: 0.5}, got)

	require.NoError(t, mc.Set(ctx, "s", "plain", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "plain", s)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", 1, time.Second))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.advance(2 * time.Second)
	ok, err = mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	var v int
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc, clk := newTestMemory(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Hour))
	clk.advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	clk.advance(time.Millisecond)
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v)) // a is now the most recent
	clk.advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestMemoryCacheLock(t *testing.T) {
	mc, clk := newTestMemory(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "job", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "job", time.Second)
	assert.False(t, ok)

	clk.advance(2 * time.Second)
	ok, _ = mc.TryLock(ctx, "job", time.Second)
	assert.True(t, ok, "expired lock can be taken again")

	require.NoError(t, mc.Unlock(ctx, "job"))
	ok, _ = mc.TryLock(ctx, "job", time.Second)
	assert.True(t, ok)
}

func TestLayeredCachePromotesFromL2(t *testing.T) {
	l2, _ := newTestMemory(t)
	lc := NewLayeredCache(l2)
	t.Cleanup(func() { _ = lc.Close() })
	ctx := context.Background()

	require.NoError(t, l2.Set(ctx, "r", payload{ID: "r1"}, time.Hour))
	var got payload
	require.NoError(t, lc.Get(ctx, "r", &got))
	assert.Equal(t, "r1", got.ID)

	// served from L1 after L2 loses it
	require.NoError(t, l2.Delete(ctx, "r"))
	got = payload{}
	require.NoError(t, lc.Get(ctx, "r", &got))
	assert.Equal(t, "r1", got.ID)

	require.NoError(t, lc.Delete(ctx, "r"))
	assert.ErrorIs(t, lc.Get(ctx, "r", &got), ErrCacheMiss)
}

func TestLayeredCacheWritesThrough(t *testing.T) {
	l2, _ := newTestMemory(t)
	lc := NewLayeredCache(l2, WithLayeredL1TTL(time.Second))
	ctx := context.Background()

	require.NoError(t, lc.Set(ctx, "w", payload{ID: "w1"}, time.Hour))
	var got payload
	require.NoError(t, l2.Get(ctx, "w", &got))
	assert.Equal(t, "w1", got.ID)
	assert.Equal(t, time.Second, lc.l1Expiry(time.Hour))
	assert.Equal(t, 500*time.Millisecond, lc.l1Expiry(500*time.Millisecond))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "analysis:abc", Key("analysis", "abc"))
	assert.Equal(t, "p:1:x", Key("p", 1, "x"))
}

// TestRedisCache runs against a live server when REDIS_ADDR is set.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	host, portStr, _ := strings.Cut(addr, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6379
	}

	ctx := context.Background()
	rc, err := NewRedisCache(ctx, WithRedisAddr(host, port), WithRedisPrefix("finguard-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	require.NoError(t, rc.Set(ctx, "p", payload{ID: "z", Score: 1}, time.Minute))
	var got payload
	require.NoError(t, rc.Get(ctx, "p", &got))
	assert.Equal(t, "z", got.ID)
	require.NoError(t, rc.Delete(ctx, "p"))
	assert.ErrorIs(t, rc.Get(ctx, "p", &got), ErrCacheMiss)
}
