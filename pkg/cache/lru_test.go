package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/speakbill/pkg/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestLRUCache_Basic(t *testing.T) {
	t.Parallel()

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3, 0)

		c.Put("a", 1)
		c.Put("b", 2)

		val, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, val)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("get non-existent", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3, 0)

		val, ok := c.Get("missing")
		assert.False(t, ok)
		assert.Zero(t, val)
	})

	t.Run("update existing", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3, 0)

		c.Put("a", 1)
		c.Put("a", 2)

		val, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, val)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("remove and clear", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRUCache[string, int](3, 0)

		c.Put("a", 1)
		c.Put("b", 2)
		assert.True(t, c.Remove("a"))
		assert.False(t, c.Remove("a"))

		c.Clear()
		assert.Equal(t, 0, c.Len())
	})
}

func TestLRUCache_Eviction(t *testing.T) {
	t.Parallel()
	c := cache.NewLRUCache[string, int](2, 0)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // "b" is now least recently used
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_TTL(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.NewLRUCache[string, int](4, 5*time.Second, cache.WithClock(clock.Now))

	c.Put("a", 1)
	clock.Advance(4 * time.Second)
	val, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, val)

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Put("a", 2)
	clock.Advance(3 * time.Second)
	c.Put("a", 3) // refresh resets the TTL
	clock.Advance(3 * time.Second)
	val, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, val)
}

func TestLRUCache_Concurrent(t *testing.T) {
	t.Parallel()
	c := cache.NewLRUCache[int, int](64, time.Minute)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				c.Put(g*1000+i, i)
				c.Get(g*1000 + i/2)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}

func TestNewLRUCache_InvalidCapacity(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		cache.NewLRUCache[string, int](0, time.Second)
	})
}
