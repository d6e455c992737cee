package leads

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers lead idempotency keys for a while. Seen reports whether
// the key was already submitted; an error means the check could not run.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	// Forget drops a key whose lead could not be saved so a retry goes through.
	Forget(ctx context.Context, key string) error
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) Deduper {
	return &redisDeduper{client: client, ttl: ttl}
}

func dedupKey(key string) string {
	return "lead:idem:" + key
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKey(key), time.Now().UTC().Format(time.RFC3339Nano), d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (d *redisDeduper) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, dedupKey(key)).Err()
}
