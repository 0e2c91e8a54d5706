package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestCacheExpiry(t *testing.T) {
	c := New[string](Options{TTL: time.Minute})
	defer c.Close()

	clock := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Set("tok", "survey-1")
	v, ok := c.Get("tok")
	assert.True(t, ok)
	assert.Equal(t, "survey-1", v)

	clock = clock.Add(2 * time.Minute)
	_, ok = c.Get("tok")
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c := New[int](Options{MaxItems: 2})
	defer c.Close()

	clock := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Set("a", 1)
	clock = clock.Add(time.Second)
	c.Set("b", 2)
	clock = clock.Add(time.Second)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Set("b", 20)
	assert.Equal(t, 2, c.Len())
	v, _ := c.Get("b")
	assert.Equal(t, 20, v)
}

func TestCacheJanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New[string](Options{TTL: time.Millisecond, PurgeWindow: time.Millisecond})
	c.Set("k", "v")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
}
