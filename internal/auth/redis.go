package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ NonceStore = (*RedisNonceStore)(nil)

// RedisNonceStore keeps state values as expiring Redis keys. GETDEL makes consumption
// atomic across API instances.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisNonceStore stores nonces under "<prefix>:nonce:<value>" expiring after ttl.
func NewRedisNonceStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisNonceStore) key(value string) string {
	if s.prefix == "" {
		return "nonce:" + value
	}
	return s.prefix + ":nonce:" + value
}

func (s *RedisNonceStore) Insert(ctx context.Context, n Nonce) error {
	ttl := s.ttl
	if ttl <= 0 {
		ttl = 0
	}
	created := strconv.FormatInt(n.CreatedAt.UTC().UnixNano(), 10)
	ok, err := s.client.SetNX(ctx, s.key(n.Value), created, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisNonceStore) Consume(ctx context.Context, value string) (time.Time, error) {
	raw, err := s.client.GetDel(ctx, s.key(value)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis getdel: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode nonce timestamp: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// DeleteBefore is a no-op: Redis expires the keys itself.
func (s *RedisNonceStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
