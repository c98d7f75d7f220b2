package alert

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainsharp/scheduler/internal/queue/redisclient"
)

// RedisDebounce backs a workflow's cooldown with a Redis key instead
// of an in-process map, so AlertDebounceBackend="redis" debounces
// correctly across multiple scheduler replicas sharing one database.
type RedisDebounce struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDebounceFactory returns a debounce factory suitable for
// WithDebounceFactory, keying every cooldown under prefix so the
// scheduler's cooldown keys never collide with unrelated uses of the
// same Redis database. client is the shared connection every other
// Redis-backed concern in the process reaches through, rather than a
// debounce-private one.
func NewRedisDebounceFactory(client *redisclient.Client, prefix string) func(time.Duration) debounceStore {
	return func(ttl time.Duration) debounceStore {
		return &RedisDebounce{client: client.Raw(), ttl: ttl, prefix: prefix}
	}
}

func (r *RedisDebounce) Get(key string) (any, bool) {
	v, err := r.client.Get(context.Background(), r.prefix+key).Result()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *RedisDebounce) Set(key string, val any) {
	r.client.Set(context.Background(), r.prefix+key, "1", r.ttl)
}
