package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// KeySetCache keeps the filtered signing keys in memory and refreshes them
// from a KeySetSource when they go stale or an unknown key id shows up.
type KeySetCache struct {
	source     KeySetSource
	ttl        time.Duration
	minRefresh time.Duration
	logger     *slog.Logger
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	loaded    bool
}

// CacheOption configures a KeySetCache.
type CacheOption func(*KeySetCache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *KeySetCache) { c.now = now }
}

// NewKeySetCache creates a cache over source. A ttl of zero fetches on every
// lookup. minRefresh limits how often an unknown kid may force a refetch.
func NewKeySetCache(source KeySetSource, ttl, minRefresh time.Duration, logger *slog.Logger, opts ...CacheOption) *KeySetCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &KeySetCache{
		source:     source,
		ttl:        ttl,
		minRefresh: minRefresh,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the public key for kid. It fails with ErrUnauthorized when the
// key set has no such key and with ErrKeySetUnavailable when the set cannot
// be fetched.
func (c *KeySetCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, fetchedAt, fresh := c.snapshot()
	if fresh {
		if k, ok := keys[kid]; ok {
			return k, nil
		}
		if c.now().Sub(fetchedAt) < c.minRefresh {
			return nil, fmt.Errorf("%w: unknown key id %q", ErrUnauthorized, kid)
		}
		c.logger.Debug("unknown key id, refreshing key set", "kid", kid)
	}

	keys, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: unknown key id %q", ErrUnauthorized, kid)
}

func (c *KeySetCache) snapshot() (map[string]*rsa.PublicKey, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fresh := c.loaded && c.ttl > 0 && c.now().Sub(c.fetchedAt) < c.ttl
	return c.keys, c.fetchedAt, fresh
}

// refresh fetches the key set once for all concurrent callers. The fetch is
// detached from any single caller's cancellation; each caller stops waiting
// when its own context ends.
func (c *KeySetCache) refresh(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("jwks", func() (any, error) {
		ks, err := c.source.Fetch(fetchCtx)
		if err != nil {
			c.logger.Error("failed to fetch signing key set", "error", err)
			if !errors.Is(err, ErrKeySetUnavailable) {
				err = fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
			}
			return nil, err
		}
		keys, perr := ks.SigningKeys()
		if perr != nil {
			c.logger.Warn("skipped unusable signing keys", "error", perr)
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.loaded = true
		c.mu.Unlock()

		c.logger.Debug("signing key set refreshed", "keys", len(keys))
		return keys, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeySetUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]*rsa.PublicKey), nil
	}
}
