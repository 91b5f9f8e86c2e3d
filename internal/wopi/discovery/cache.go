package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"wopihost/internal/cache"
)

const (
	ActionsKey   = "wopi:discovery:actions"
	ProofKeysKey = "wopi:discovery:proofkeys"

	ActionsTTL   = time.Hour
	ProofKeysTTL = 20 * time.Minute
)

// Cache serves discovery data from two independently expiring entries. A miss
// on either entry fetches the whole feed but only fills the missing entry.
// Concurrent misses may fetch twice; the last writer wins.
type Cache struct {
	store   cache.Cache
	fetcher Fetcher
	log     *slog.Logger
}

func NewCache(store cache.Cache, fetcher Fetcher, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{store: store, fetcher: fetcher, log: log}
}

// Actions returns every action published by the feed.
func (c *Cache) Actions(ctx context.Context) ([]Action, error) {
	var actions []Action
	if c.lookup(ctx, ActionsKey, &actions) {
		return actions, nil
	}

	feed, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.put(ctx, ActionsKey, feed.Actions, ActionsTTL)
	return feed.Actions, nil
}

// ProofKeys returns the current and previous proof keys.
func (c *Cache) ProofKeys(ctx context.Context) (ProofKeys, error) {
	var keys ProofKeys
	if c.lookup(ctx, ProofKeysKey, &keys) {
		return keys, nil
	}

	feed, err := c.fetch(ctx)
	if err != nil {
		return ProofKeys{}, err
	}
	if feed.ProofKeys == nil {
		return ProofKeys{}, ErrNoProofKey
	}
	c.put(ctx, ProofKeysKey, feed.ProofKeys, ProofKeysTTL)
	return *feed.ProofKeys, nil
}

func (c *Cache) fetch(ctx context.Context) (*Feed, error) {
	raw, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// lookup treats cache backend failures as a miss.
func (c *Cache) lookup(ctx context.Context, key string, dst any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "discovery cache read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.WarnContext(ctx, "discovery cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

func (c *Cache) put(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.WarnContext(ctx, "discovery cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.log.WarnContext(ctx, "discovery cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
