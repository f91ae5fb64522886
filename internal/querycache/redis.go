package querycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisNamespace = "dashboard:qc:"
	// redisGenKey лежит вне пространства ключей, чтобы SCAN инвалидации его не задевал.
	redisGenKey = "dashboard:qcgen"
)

// Redis — общий кэш для нескольких инстансов сервиса.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis разбирает REDIS_URL и проверяет соединение.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (c *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	raw, err := c.client.Get(ctx, redisNamespace+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		countLookup("redis", false)
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	countLookup("redis", true)
	return raw, nil
}

func (c *Redis) Set(ctx context.Context, key Key, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, redisNamespace+key.String(), val, ttl).Err()
}

func (c *Redis) Generation(ctx context.Context) (uint64, error) {
	gen, err := c.client.Get(ctx, redisGenKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return gen, nil
}

// SetAt — WATCH на счётчике поколений: инвалидация между проверкой и записью
// срывает транзакцию, и значение не пишется.
func (c *Redis) SetAt(ctx context.Context, gen uint64, key Key, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, redisGenKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisNamespace+key.String(), val, ttl)
			return nil
		})
		return err
	}, redisGenKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate сдвигает поколение и удаляет сам ключ префикса и всё под ним
// (SCAN по "<prefix>:*").
func (c *Redis) Invalidate(ctx context.Context, prefixes ...Key) error {
	countInvalidation(prefixes)
	if err := c.client.Incr(ctx, redisGenKey).Err(); err != nil {
		return fmt.Errorf("redis incr generation: %w", err)
	}
	for _, p := range prefixes {
		base := redisNamespace + p.String()
		if err := c.client.Del(ctx, base).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", base, err)
		}
		pattern := globEscape(base) + ":*"
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("redis del %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan %s: %w", pattern, err)
		}
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Redis) Close() error { return c.client.Close() }

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }
