package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedCacheSetGet(t *testing.T) {
	c := New[int](10, time.Minute)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestBoundedCacheTTLExpiry(t *testing.T) {
	c := New[string](10, 10*time.Millisecond)
	c.Set("k", "v")

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	removed := c.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}

func TestBoundedCacheEntryCeiling(t *testing.T) {
	c := New[int](3, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(2), c.Evictions())

	// Oldest-accessed entries were evicted.
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestBoundedCacheAccessOrderEviction(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes oldest-accessed.
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestBoundedCacheMemoryCeiling(t *testing.T) {
	c := New[int](100, time.Minute).WithMemoryCeiling(10)
	c.SetSized("big1", 1, 6)
	c.SetSized("big2", 2, 6)

	// 12 > 10, oldest evicted.
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("big2")
	assert.True(t, ok)
}

func TestFIFOSetDedup(t *testing.T) {
	s := NewFIFOSet(3)

	assert.False(t, s.Seen("tx1"))
	assert.True(t, s.Seen("tx1"))

	s.Seen("tx2")
	s.Seen("tx3")
	s.Seen("tx4") // evicts tx1

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("tx1"))
	assert.True(t, s.Contains("tx4"))

	// tx1 was evicted, so it reads as new again.
	assert.False(t, s.Seen("tx1"))
}
