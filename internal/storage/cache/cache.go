// Package cache decorates a module registry with a Redis read-through cache
// for point lookups. Listings always hit the backing store; definitions are
// small and lookups dominate the read path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/StreamWeave/module_registry/internal/module"
)

// CachedRegistry caches FindDefinition results and invalidates on writes.
// A cache failure never fails the operation; the backing store remains
// authoritative.
type CachedRegistry struct {
	inner  module.Registry
	client *redis.Client
	ttl    time.Duration
}

var _ module.Registry = (*CachedRegistry)(nil)

// New wraps inner with a cache on client. A non-positive ttl defaults to
// five minutes.
func New(inner module.Registry, client *redis.Client, ttl time.Duration) *CachedRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRegistry{inner: inner, client: client, ttl: ttl}
}

func cacheKey(name string, typ module.ModuleType) string {
	return "module:def:" + string(typ) + ":" + name
}

// cachedDefinition carries the opaque payload explicitly; Definition keeps
// it out of its own JSON form.
type cachedDefinition struct {
	module.Definition
	Payload []byte `json:"payload,omitempty"`
}

// FindDefinition serves from cache when possible, falling back to the inner
// registry and populating the cache on a hit there.
func (c *CachedRegistry) FindDefinition(ctx context.Context, name string, typ module.ModuleType) (*module.Definition, error) {
	key := cacheKey(name, typ)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached cachedDefinition
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			def := cached.Definition
			def.Bytes = cached.Payload
			return &def, nil
		}
		// Unreadable entry; drop it and fall through to the store.
		c.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		return c.inner.FindDefinition(ctx, name, typ)
	}

	def, err := c.inner.FindDefinition(ctx, name, typ)
	if err != nil || def == nil {
		return def, err
	}

	if data, jsonErr := json.Marshal(cachedDefinition{Definition: *def, Payload: def.Bytes}); jsonErr == nil {
		c.client.Set(ctx, key, data, c.ttl)
	}
	return def, nil
}

// FindDefinitionsByName passes through to the inner registry.
func (c *CachedRegistry) FindDefinitionsByName(ctx context.Context, name string) ([]module.Definition, error) {
	return c.inner.FindDefinitionsByName(ctx, name)
}

// FindDefinitionsByType passes through to the inner registry.
func (c *CachedRegistry) FindDefinitionsByType(ctx context.Context, typ module.ModuleType) ([]module.Definition, error) {
	return c.inner.FindDefinitionsByType(ctx, typ)
}

// FindDefinitions passes through to the inner registry.
func (c *CachedRegistry) FindDefinitions(ctx context.Context) ([]module.Definition, error) {
	return c.inner.FindDefinitions(ctx)
}

// RegisterNew writes through and invalidates the key. Invalidation also
// runs on a failed insert: the slot may hold a definition registered by a
// concurrent writer after the cached miss.
func (c *CachedRegistry) RegisterNew(ctx context.Context, def module.Definition) (bool, error) {
	ok, err := c.inner.RegisterNew(ctx, def)
	c.client.Del(ctx, cacheKey(def.Name, def.Type))
	return ok, err
}

// Delete writes through and invalidates the key.
func (c *CachedRegistry) Delete(ctx context.Context, def module.Definition) (bool, error) {
	ok, err := c.inner.Delete(ctx, def)
	c.client.Del(ctx, cacheKey(def.Name, def.Type))
	return ok, err
}
