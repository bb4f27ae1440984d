package service

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// idCache is a bounded cache of recently processed ids, used only to
// short-circuit re-processing. Losing entries costs extra work, never
// correctness, so it is purged wholesale on rollback.
type idCache struct {
	cache *lru.Cache[int64, struct{}]
}

func newIDCache(size int) (*idCache, error) {
	cache, err := lru.New[int64, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &idCache{cache: cache}, nil
}

func (c *idCache) Contains(id int64) bool {
	return c.cache.Contains(id)
}

func (c *idCache) Add(id int64) {
	c.cache.Add(id, struct{}{})
}

func (c *idCache) Remove(id int64) {
	c.cache.Remove(id)
}

func (c *idCache) Purge() {
	c.cache.Purge()
}
