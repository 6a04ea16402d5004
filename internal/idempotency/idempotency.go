package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pos:rates:idem:"

// Store reserves client supplied idempotency keys for rate updates.
type Store interface {
	// TryReserve returns false when key was already reserved and not released.
	TryReserve(ctx context.Context, key string) (bool, error)
	// Release frees a key whose request failed so the client can retry it.
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: client, TTL: ttl}
}

func (s *RedisStore) TryReserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.Client.SetNX(ctx, keyPrefix+key, "1", s.TTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.Client.Del(ctx, keyPrefix+key).Err()
}

// Noop accepts every key. Used when no Redis is configured.
type Noop struct{}

func (Noop) TryReserve(context.Context, string) (bool, error) { return true, nil }

func (Noop) Release(context.Context, string) error { return nil }

// Connect returns a Noop store when addr is empty.
func Connect(ctx context.Context, addr, password string, db int, ttl time.Duration) (Store, func() error, error) {
	if addr == "" {
		return Noop{}, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return NewRedisStore(client, ttl), client.Close, nil
}
