// Package cache provides an optional read-through cache in front of a
// durable EntityPersister, so repeated Load calls for hot entities
// (the cluster record, a topic's partition list) don't round-trip to
// Postgres on every request.
package cache

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/pulsarbroker/internal/persistence"
)

// Cache is the minimal byte-slice store both backends implement.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(key string)
}

type memory struct {
	mu sync.Mutex
	m  map[string]entry
}
type entry struct {
	b   []byte
	exp time.Time
}

// New returns an in-process cache, adequate for a single-node broker or
// tests.
func New() Cache { return &memory{m: make(map[string]entry)} }

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

func (c *memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// redisCache backs the cache with Redis so it survives broker restarts
// and can be shared across nodes, at the cost of a network round trip
// the in-process memory cache doesn't pay.
type redisCache struct{ r *redis.Client }

// NewAuto returns a Redis-backed cache when addr is non-empty, else the
// in-process memory cache.
func NewAuto(addr string) Cache {
	if addr == "" {
		return New()
	}
	return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewAutoFromEnv is an env-driven constructor for callers that haven't
// plumbed config through; cmd bootstrap uses NewAuto with the configured
// address instead.
func NewAutoFromEnv() Cache {
	return NewAuto(os.Getenv("BROKER_CACHE_REDIS_ADDR"))
}

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}

func (r *redisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Del(ctx, key).Err()
}

// entityTTL bounds how long a cached Load result is trusted before the
// next read falls through to the backing store regardless of whether an
// invalidating Save/Delete happened on this process — a safety net for
// multi-node deployments where another node's write wouldn't otherwise
// invalidate this node's cache.
const entityTTL = 30 * time.Second

// CachedEntityPersister wraps a durable persistence.EntityPersister with
// a read-through cache keyed by entityType+key. Writes go straight
// through to the backing store and then invalidate (not update) the
// cache entry, so a concurrent reader never observes a cached value
// older than the write that just happened.
type CachedEntityPersister struct {
	inner persistence.EntityPersister
	cache Cache
}

func NewCachedEntityPersister(inner persistence.EntityPersister, c Cache) *CachedEntityPersister {
	return &CachedEntityPersister{inner: inner, cache: c}
}

func cacheKey(entityType, key string) string { return entityType + "\x00" + key }

func (p *CachedEntityPersister) Save(ctx context.Context, entityType, key string, expectedVersion uint32, data []byte) (uint32, error) {
	newVersion, err := p.inner.Save(ctx, entityType, key, expectedVersion, data)
	if err == nil {
		p.cache.Delete(cacheKey(entityType, key))
	}
	return newVersion, err
}

func (p *CachedEntityPersister) Load(ctx context.Context, entityType, key string) (persistence.StoredEntity, error) {
	ck := cacheKey(entityType, key)
	if cached, ok := p.cache.Get(ck); ok {
		return decodeStoredEntity(cached), nil
	}
	entity, err := p.inner.Load(ctx, entityType, key)
	if err != nil {
		return persistence.StoredEntity{}, err
	}
	p.cache.Set(ck, encodeStoredEntity(entity), entityTTL)
	return entity, nil
}

func (p *CachedEntityPersister) Delete(ctx context.Context, entityType, key string) error {
	err := p.inner.Delete(ctx, entityType, key)
	if err == nil {
		p.cache.Delete(cacheKey(entityType, key))
	}
	return err
}

func (p *CachedEntityPersister) Keys(ctx context.Context, entityType string) ([]string, error) {
	return p.inner.Keys(ctx, entityType)
}

// encodeStoredEntity/decodeStoredEntity pack a StoredEntity into the byte
// slice the Cache interface trades in: a 4-byte little-endian version
// prefix followed by the raw serialization.
func encodeStoredEntity(e persistence.StoredEntity) []byte {
	buf := make([]byte, 4+len(e.Serialization))
	buf[0] = byte(e.Version)
	buf[1] = byte(e.Version >> 8)
	buf[2] = byte(e.Version >> 16)
	buf[3] = byte(e.Version >> 24)
	copy(buf[4:], e.Serialization)
	return buf
}

func decodeStoredEntity(buf []byte) persistence.StoredEntity {
	version := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return persistence.StoredEntity{Version: version, Serialization: buf[4:]}
}
