package analysis

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Cache maps an upload identity to a finished summary. It is safe for
// concurrent use. A nil Cache stores nothing.
type Cache struct {
	entries *lru.Cache
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create result cache")
	}
	return &Cache{entries: c}, nil
}

func cacheKey(sha256, name string, declared bool) string {
	if declared {
		return sha256 + "\x00" + name + "\x00image"
	}
	return sha256 + "\x00" + name
}

func (c *Cache) Get(key string) (*Summary, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Summary)
	return s, ok
}

func (c *Cache) Add(key string, s *Summary) {
	if c == nil || s == nil {
		return
	}
	c.entries.Add(key, s)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
