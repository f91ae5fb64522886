package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
)

// ErrMiss — ключа нет или он истёк.
var ErrMiss = errors.New("cache miss")

// Key — ключ запроса из сегментов: Key{"communications", id} -> "communications:<id>".
// Инвалидация идёт по префиксу сегментов.
type Key []string

func (k Key) String() string { return strings.Join(k, ":") }

// HasPrefix — p совпадает с началом k посегментно.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// matchesPrefix — то же для уже склеенной строки ключа.
func matchesPrefix(key string, p Key) bool {
	ps := p.String()
	return key == ps || strings.HasPrefix(key, ps+":")
}

// Cache хранит сериализованные ответы запросов.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, val []byte, ttl time.Duration) error
	// Invalidate удаляет все ключи, начинающиеся с любого из префиксов.
	Invalidate(ctx context.Context, prefixes ...Key) error
}

// Versioned — кэш с поколением: каждая Invalidate его сдвигает.
type Versioned interface {
	Generation(ctx context.Context) (uint64, error)
	// SetAt пишет значение, только если поколение всё ещё gen.
	SetAt(ctx context.Context, gen uint64, key Key, val []byte, ttl time.Duration) error
}

// Fetch — cache-aside: при промахе вызывает load и кладёт результат в кэш.
// Ошибки самого кэша не мешают ответу: он просто идёт мимо кэша.
// Если за время load прошла инвалидация, результат в кэш не попадает.
func Fetch[T any](ctx context.Context, c Cache, key Key, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if raw, err := c.Get(ctx, key); err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}

	vc, versioned := c.(Versioned)
	var (
		gen    uint64
		genErr error
	)
	if versioned {
		gen, genErr = vc.Generation(ctx)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	raw, err := json.Marshal(v)
	if err != nil || genErr != nil {
		return v, nil
	}
	if versioned {
		_ = vc.SetAt(ctx, gen, key, raw, ttl)
	} else {
		_ = c.Set(ctx, key, raw, ttl)
	}
	return v, nil
}

func countInvalidation(prefixes []Key) {
	for _, p := range prefixes {
		label := ""
		if len(p) > 0 {
			label = p[0]
		}
		metrics.CacheInvalidations.WithLabelValues(label).Inc()
	}
}

func countLookup(backend string, hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	metrics.CacheLookups.WithLabelValues(backend, res).Inc()
}
