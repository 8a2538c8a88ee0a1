package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sandbox-runner-server/models"
)

// cacheBackoff is how long the cache is skipped after the store failed.
const cacheBackoff = 30 * time.Second

// ResultCache memoizes successful execution results. Implementations absorb
// their own failures: an unavailable store behaves as a permanent miss.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.ExecutionResult, bool)
	Set(ctx context.Context, key string, result *models.ExecutionResult, ttl time.Duration)
	Enabled() bool
}

// CacheKey derives the cache key from the argument vector the container
// runs. Arguments are NUL-separated so no two vectors share a key.
func CacheKey(argv []string) string {
	h := sha256.New()
	for _, arg := range argv {
		h.Write([]byte(arg))
		h.Write([]byte{0})
	}
	return ResultKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// ResultStore is the subset of RedisService the cache needs
type ResultStore interface {
	GetResult(ctx context.Context, key string) (*models.ExecutionResult, error)
	SetResult(ctx context.Context, key string, result *models.ExecutionResult, ttl time.Duration) error
}

// NewResultCache wraps store; a nil store disables caching.
func NewResultCache(store ResultStore) ResultCache {
	if store == nil {
		return noopCache{}
	}
	return &storeCache{store: store, now: time.Now}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*models.ExecutionResult, bool) { return nil, false }
func (noopCache) Set(context.Context, string, *models.ExecutionResult, time.Duration) {}
func (noopCache) Enabled() bool                                                     { return false }

type storeCache struct {
	store ResultStore
	now   func() time.Time
	// downUntil is a unix-nano deadline before which the store is not tried.
	downUntil atomic.Int64
}

func (c *storeCache) Get(ctx context.Context, key string) (*models.ExecutionResult, bool) {
	if c.unavailable() {
		return nil, false
	}
	result, err := c.store.GetResult(ctx, key)
	if err != nil {
		c.markDown(err, "get")
		return nil, false
	}
	if result == nil {
		return nil, false
	}
	return result, true
}

func (c *storeCache) Set(ctx context.Context, key string, result *models.ExecutionResult, ttl time.Duration) {
	if c.unavailable() || result == nil || !result.Success {
		return
	}
	if err := c.store.SetResult(ctx, key, result, ttl); err != nil {
		c.markDown(err, "set")
	}
}

func (c *storeCache) Enabled() bool { return true }

func (c *storeCache) unavailable() bool {
	return c.now().UnixNano() < c.downUntil.Load()
}

func (c *storeCache) markDown(err error, op string) {
	c.downUntil.Store(c.now().Add(cacheBackoff).UnixNano())
	log.Warn().Err(err).Str("op", op).Dur("backoff", cacheBackoff).Msg("result cache unavailable, continuing uncached")
}
