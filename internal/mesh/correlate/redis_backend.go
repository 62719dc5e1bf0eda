package correlate

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend records that a correlation is in flight in Redis, keyed
// with a TTL matching the tracker's wait timeout. It does not transport
// the result payload itself — the mesh link that receives the reply
// still must be connected to the same process as the waiting Await call;
// this only lets a process detect whether a request_id it is about to
// reuse is still claimed elsewhere.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing redis client. prefix namespaces keys,
// e.g. "logline:correlate:".
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(requestID string) string {
	return b.prefix + requestID
}

// Put records requestID as in flight for ttl.
func (b *RedisBackend) Put(ctx context.Context, requestID string, ttl time.Duration) error {
	return b.client.Set(ctx, b.key(requestID), "1", ttl).Err()
}

// Take reports whether requestID is still recorded as in flight and
// removes the record (so a second claim attempt observes it as gone).
func (b *RedisBackend) Take(ctx context.Context, requestID string) (bool, error) {
	n, err := b.client.Del(ctx, b.key(requestID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
