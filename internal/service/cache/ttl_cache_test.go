package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 5, 2, 0, 0, 0, time.UTC)
	c := NewTTLCache[int](time.Hour).WithClock(func() time.Time { return now })

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCache_Reset(t *testing.T) {
	c := NewTTLCache[string](0)
	c.Set("k", "v")
	assert.Equal(t, 1, c.Len())
	c.Reset()
	_, ok := c.Get("k")
	assert.False(t, ok)
}
