package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const resultKeyPrefix = "ledger:result:"

// ResultCache keeps completed idempotency results in Redis so replays can be
// served without a database round trip. It is strictly non-authoritative:
// misses (and any Redis failure) fall through to the storage path.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache instantiates the cache helper. A nil client disables it.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

func resultKey(opType, key string) string {
	return resultKeyPrefix + opType + ":" + key
}

// Get returns the cached entry for (opType, key), if present.
func (c *ResultCache) Get(ctx context.Context, opType, key string) (Entry, bool) {
	if c == nil || c.client == nil {
		return Entry{}, false
	}
	raw, err := c.client.Get(ctx, resultKey(opType, key)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Put stores a committed result. Errors are reported but never block the
// caller's success path.
func (c *ResultCache) Put(ctx context.Context, opType, key string, entry Entry) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, resultKey(opType, key), raw, c.ttl).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
