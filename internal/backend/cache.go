package backend

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds a Cache when no size is given.
const DefaultCacheSize = 512

// Cache is an in-process, namespaced key-value store for non-critical,
// session-scoped values. Entries beyond the size bound are evicted least
// recently used first and nothing survives the process.
type Cache struct {
	namespace string
	entries   *lru.Cache[string, string]
}

// NewCache creates a cache for namespace ("default" when empty).
func NewCache(namespace string, size int) (*Cache, error) {
	if namespace == "" {
		namespace = "default"
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{namespace: namespace, entries: entries}, nil
}

func (c *Cache) Name() string { return "cache(" + c.namespace + ")" }

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.entries.Get(c.namespace + ":" + key)
	return v, ok, nil
}

func (c *Cache) Set(_ context.Context, key, value string) error {
	c.entries.Add(c.namespace+":"+key, value)
	return nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return c.entries.Len() }
