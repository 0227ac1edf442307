package marketdata

import (
	"sync"
	"time"
)

type cached[T any] struct {
	data      T
	updatedAt time.Time
}

// lastGood remembers the most recent successful response per key.
type lastGood[T any] struct {
	mu    sync.RWMutex
	items map[string]cached[T]
}

func newLastGood[T any]() *lastGood[T] {
	return &lastGood[T]{items: make(map[string]cached[T])}
}

func (c *lastGood[T]) get(key string) (T, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v.data, v.updatedAt, ok
}

func (c *lastGood[T]) put(key string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cached[T]{data: v, updatedAt: time.Now()}
}

// CacheStats counts fetches served live and from the last-good cache.
type CacheStats struct {
	Live        int64 `json:"live"`
	Cached      int64 `json:"cached"`
	Unavailable int64 `json:"unavailable"`
}
