package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheKeyPrefix namespaces embedding cache entries in Redis.
const cacheKeyPrefix = "modsift:emb:"

// DefaultCacheTTL bounds how long cached embeddings live. Embeddings are
// deterministic per model, so the TTL only caps memory, not staleness.
const DefaultCacheTTL = 24 * time.Hour

// Rediser is the subset of the go-redis client the cache uses. Satisfied by
// *redis.Client; tests substitute a map-backed fake.
type Rediser interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Cache is a Provider decorator that memoizes embeddings in Redis, keyed by
// model and text hash. The cache is best-effort: Redis failures are logged
// and the call falls through to the wrapped provider, so a broken cache
// never breaks retrieval.
type Cache struct {
	next   Provider
	client Rediser
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps next with a Redis-backed embedding cache.
// ttl <= 0 selects DefaultCacheTTL.
func NewCache(next Provider, client Rediser, model string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if next == nil {
		return nil, fmt.Errorf("wrapped provider must not be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{next: next, client: client, model: model, ttl: ttl, logger: logger}, nil
}

// Embed implements Provider. Cached texts are served from Redis; only misses
// reach the wrapped provider, in their original relative order.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	vectors := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache lookup failed, bypassing cache", "error", err)
		return c.next.Embed(ctx, texts)
	}
	for i, raw := range cached {
		v, ok := decodeCached(raw, c.next.Dimension())
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		vectors[i] = v
	}

	if len(missIdx) > 0 {
		missTexts := make([]string, len(missIdx))
		for j, i := range missIdx {
			missTexts[j] = texts[i]
		}
		fresh, err := c.next.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			vectors[i] = fresh[j]
			payload, err := json.Marshal(fresh[j])
			if err != nil {
				continue
			}
			if err := c.client.Set(ctx, keys[i], payload, c.ttl).Err(); err != nil {
				// One warning, then stop writing; the entries stay misses.
				c.logger.Warn("embedding cache write failed", "key", keys[i], "error", err)
				break
			}
		}
	}
	return vectors, nil
}

// Dimension implements Provider.
func (c *Cache) Dimension() int { return c.next.Dimension() }

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}

// decodeCached parses a cached entry, rejecting anything that does not
// decode to a vector of the expected dimension.
func decodeCached(raw any, dim int) ([]float32, bool) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil || len(v) != dim {
		return nil, false
	}
	return v, true
}
