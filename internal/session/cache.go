package session

import (
	"sync"

	"clmhub.io/internal/config"
)

// Cache hands out one Client per set of coordinates, rebuilding it when they change.
type Cache struct {
	mu     sync.Mutex
	coords config.Coordinates
	client *Client
	opts   []Option
}

// NewCache returns an empty cache; opts apply to every client it builds.
func NewCache(opts ...Option) *Cache {
	return &Cache{opts: opts}
}

// Client returns the cached client for coords.
func (c *Cache) Client(coords config.Coordinates) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.coords == coords {
		return c.client
	}
	c.client = NewClient(coords, c.opts...)
	c.coords = coords
	return c.client
}
