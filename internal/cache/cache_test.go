package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func TestTTLCacheExpiresEntries(t *testing.T) {
	clk := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[string, int](WithNow(clk.Now))

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	ttl, ok := c.TTL("a")
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheAddOnlyWhenAbsent(t *testing.T) {
	clk := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[string, string](WithNow(clk.Now))

	assert.True(t, c.Add("k", "first", 30*time.Second))
	assert.False(t, c.Add("k", "second", 30*time.Second))
	v, _ := c.Get("k")
	assert.Equal(t, "first", v)

	clk.Advance(31 * time.Second)
	assert.True(t, c.Add("k", "third", 30*time.Second))
}

func TestTTLCacheSweepsOnWrite(t *testing.T) {
	clk := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[int, int](WithNow(clk.Now), WithSweepEvery(2)).(*ttlCache[int, int])

	c.Set(1, 1, time.Second)
	clk.Advance(2 * time.Second)
	c.Set(2, 2, time.Minute)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.items, 1)
}

func TestTTLCacheConcurrentAdd(t *testing.T) {
	c := NewTTLCache[string, int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Add("shared", i, time.Minute) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
