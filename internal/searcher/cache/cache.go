// Package cache memoizes match results. The first level is an in-process
// LRU bounded by entry count; an optional shared second level (Redis) lets
// replicas reuse each other's work. Keys are namespaced by the corpus
// fingerprint, so a corpus change can never serve stale results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "match:"

// Backend is a shared key-value store. *redis.Client from pkg/redis
// satisfies it.
type Backend interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Observer receives hit and miss notifications, for metrics.
type Observer interface {
	CacheHit(layer string)
	CacheMiss()
}

type Option func(*options)

type options struct {
	backend  Backend
	ttl      time.Duration
	observer Observer
}

// WithBackend enables the second level. A zero ttl stores entries without
// expiry, which is safe because keys embed the corpus fingerprint.
func WithBackend(b Backend, ttl time.Duration) Option {
	return func(o *options) {
		o.backend = b
		o.ttl = ttl
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Shared   bool  `json:"shared"`
}

type Cache[V any] struct {
	l1        *lru.Cache[string, V]
	capacity  int
	namespace string
	opts      options
	group     singleflight.Group
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// New creates a cache holding at most capacity entries in process.
// namespace is usually the corpus fingerprint.
func New[V any](capacity int, namespace string, opts ...Option) (*Cache[V], error) {
	l1, err := lru.New[string, V](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	c := &Cache[V]{
		l1:        l1,
		capacity:  capacity,
		namespace: shortNamespace(namespace),
		logger:    slog.Default().With("component", "match-cache"),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c, nil
}

// Key derives a cache key from the parts that determine a result.
func (c *Cache[V]) Key(parts ...any) string {
	raw, err := json.Marshal(parts)
	if err != nil {
		raw = []byte(fmt.Sprint(parts...))
	}
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%s:%x", keyPrefix, c.namespace, hash[:16])
}

func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := c.l1.Get(key); ok {
		c.hit("memory")
		return v, true
	}
	if c.opts.backend != nil {
		data, found, err := c.opts.backend.Lookup(ctx, key)
		switch {
		case err != nil:
			c.logger.Error("cache get failed", "key", key, "error", err)
		case found:
			var v V
			if err := json.Unmarshal([]byte(data), &v); err != nil {
				c.logger.Error("cache unmarshal failed", "key", key, "error", err)
				break
			}
			c.l1.Add(key, v)
			c.hit("shared")
			return v, true
		}
	}
	c.misses.Add(1)
	if c.opts.observer != nil {
		c.opts.observer.CacheMiss()
	}
	var zero V
	return zero, false
}

func (c *Cache[V]) Set(ctx context.Context, key string, v V) {
	c.l1.Add(key, v)
	if c.opts.backend == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.opts.backend.Set(ctx, key, data, c.opts.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent misses on one key share a single computation.
// The bool reports whether the value came from the cache.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, computeFn func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.l1.Get(key); ok {
			return v, nil
		}
		v, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return val.(V), false, nil
}

// Purge empties the in-process level and deletes this namespace from the
// shared level.
func (c *Cache[V]) Purge(ctx context.Context) error {
	c.l1.Purge()
	if c.opts.backend == nil {
		return nil
	}
	deleted, err := c.opts.backend.FlushByPattern(ctx, keyPrefix+c.namespace+":*")
	if err != nil {
		return fmt.Errorf("purging shared cache: %w", err)
	}
	c.logger.Info("cache purged", "shared_keys_deleted", deleted)
	return nil
}

func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Size:     c.l1.Len(),
		Capacity: c.capacity,
		Shared:   c.opts.backend != nil,
	}
}

func (c *Cache[V]) hit(layer string) {
	c.hits.Add(1)
	if c.opts.observer != nil {
		c.opts.observer.CacheHit(layer)
	}
}

func shortNamespace(ns string) string {
	if len(ns) > 16 {
		return ns[:16]
	}
	if ns == "" {
		return "default"
	}
	return ns
}
