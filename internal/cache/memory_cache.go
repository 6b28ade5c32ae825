package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the in-process QueryCache used when no Redis address is
// configured. Expired entries are dropped lazily on Get.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	groups  map[string]map[string]struct{}
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		groups:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

var _ QueryCache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.deleteLocked(key)
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	c.entries[key] = entry{value: v, expiresAt: c.now().Add(ttl)}

	group := GroupOf(key)
	if c.groups[group] == nil {
		c.groups[group] = make(map[string]struct{})
	}
	c.groups[group][key] = struct{}{}
	return nil
}

func (c *MemoryCache) InvalidateGroup(ctx context.Context, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.groups[group] {
		delete(c.entries, key)
	}
	delete(c.groups, group)
	return nil
}

func (c *MemoryCache) deleteLocked(key string) {
	delete(c.entries, key)
	if g := c.groups[GroupOf(key)]; g != nil {
		delete(g, key)
	}
}
