package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL1SetGetDelete(t *testing.T) {
	c := NewL1(10, time.Minute)
	defer c.Stop()

	c.Set("a", []byte("one"), time.Minute)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("one"), got)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
	assert.Equal(t, int64(1), s.Deletes)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestL1Expiry(t *testing.T) {
	c := NewL1(10, time.Minute)
	defer c.Stop()

	c.Set("a", []byte("one"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestL1SweeperRemovesExpired(t *testing.T) {
	c := NewL1(10, 20*time.Millisecond)
	defer c.Stop()

	c.Set("a", []byte("one"), time.Millisecond)
	assert.Eventually(t, func() bool {
		return c.Stats().Expired >= 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestL1EvictsLRUAtCapacity(t *testing.T) {
	c := NewL1(3, time.Minute)
	defer c.Stop()

	c.Set("a", []byte("a"), time.Minute)
	time.Sleep(time.Millisecond)
	c.Set("b", []byte("b"), time.Minute)
	time.Sleep(time.Millisecond)
	c.Set("c", []byte("c"), time.Minute)

	// Touch "a" so "b" becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)
	time.Sleep(time.Millisecond)

	c.Set("d", []byte("d"), time.Minute)

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "%s should survive", key)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestL1ReplaceDoesNotEvict(t *testing.T) {
	c := NewL1(2, time.Minute)
	defer c.Stop()

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)
	c.Set("a", []byte("3"), time.Minute)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), got)
	_, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestL1DeletePrefixAndContaining(t *testing.T) {
	c := NewL1(100, time.Minute)
	defer c.Stop()

	c.Set("stock:daily:000001.SZ:v1", []byte("x"), time.Minute)
	c.Set("stock:daily:600519.SH:v1", []byte("y"), time.Minute)
	c.Set("stock:info:000001.SZ:v1", []byte("z"), time.Minute)

	assert.Equal(t, 2, c.DeletePrefix("stock:daily:"))
	assert.Equal(t, 1, c.DeleteContaining("000001.SZ"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestL1ConcurrentAccess(t *testing.T) {
	c := NewL1(100, time.Minute)
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%50)
				c.Set(key, []byte{byte(n)}, time.Minute)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	s := c.Stats()
	assert.Equal(t, int64(1600), s.Sets)
	assert.LessOrEqual(t, s.Entries, 100)
}
