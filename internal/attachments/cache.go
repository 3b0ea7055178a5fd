package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ContentCache is an optional second-tier cache keyed by content hash rather
// than source attachment id, so two different source ids carrying byte-
// identical content (a common occurrence with duplicated screenshots across
// cases) are uploaded to the target only once. It sits behind the in-memory
// LRU tier, persists across runs, and is a purely additive supplement (spec
// SPEC_FULL.md §C) — nothing in spec.md itself requires it.
type ContentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewContentCache connects to addr. A zero ttl disables expiry.
func NewContentCache(addr string, ttl time.Duration) *ContentCache {
	return &ContentCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

// Lookup returns the previously-uploaded target hash for this content, if any.
func (c *ContentCache) Lookup(ctx context.Context, content []byte) (string, bool, error) {
	key := contentCacheKey(content)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("attachments: content cache lookup: %w", err)
	}
	return val, true, nil
}

// Store records the target hash produced for this content.
func (c *ContentCache) Store(ctx context.Context, content []byte, targetHash string) error {
	key := contentCacheKey(content)
	if err := c.rdb.Set(ctx, key, targetHash, c.ttl).Err(); err != nil {
		return fmt.Errorf("attachments: content cache store: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *ContentCache) Close() error { return c.rdb.Close() }

func contentCacheKey(content []byte) string {
	return "tr2qase:attachment:" + contentHash(content)
}
