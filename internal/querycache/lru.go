package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruEntry struct {
	val []byte
	exp time.Time
}

// LRU — кэш в памяти процесса. ttl кэша — верхняя граница, ttl записи может быть короче.
type LRU struct {
	cache *expirable.LRU[string, lruEntry]
	ttl   time.Duration
	now   func() time.Time

	mu  sync.Mutex // gen и запись через SetAt
	gen uint64
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size < 1 {
		size = 1
	}
	return &LRU{
		cache: expirable.NewLRU[string, lruEntry](size, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *LRU) Get(_ context.Context, key Key) ([]byte, error) {
	e, ok := c.cache.Get(key.String())
	if ok && !e.exp.IsZero() && c.now().After(e.exp) {
		c.cache.Remove(key.String())
		ok = false
	}
	countLookup("lru", ok)
	if !ok {
		return nil, ErrMiss
	}
	return e.val, nil
}

func (c *LRU) Set(_ context.Context, key Key, val []byte, ttl time.Duration) error {
	c.add(key, val, ttl)
	return nil
}

func (c *LRU) Generation(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *LRU) SetAt(_ context.Context, gen uint64, key Key, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.add(key, val, ttl)
	}
	return nil
}

func (c *LRU) add(key Key, val []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 && (c.ttl <= 0 || ttl < c.ttl) {
		exp = c.now().Add(ttl)
	}
	c.cache.Add(key.String(), lruEntry{val: val, exp: exp})
}

func (c *LRU) Invalidate(_ context.Context, prefixes ...Key) error {
	countInvalidation(prefixes)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, k := range c.cache.Keys() {
		for _, p := range prefixes {
			if matchesPrefix(k, p) {
				c.cache.Remove(k)
				break
			}
		}
	}
	return nil
}

func (c *LRU) Len() int { return c.cache.Len() }
