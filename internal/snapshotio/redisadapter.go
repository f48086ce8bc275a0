package snapshotio

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter wraps a *redis.Client to satisfy RedisClient, so cmd/graphd
// can wire a real github.com/redis/go-redis/v9 connection into Store without
// this package importing the driver directly for anything but this adapter.
type GoRedisAdapter struct {
	Client *redis.Client
}

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.Client.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return a.Client.Get(ctx, key).Bytes()
}

func (a *GoRedisAdapter) Del(ctx context.Context, key string) error {
	return a.Client.Del(ctx, key).Err()
}
