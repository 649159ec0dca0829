package session

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	cli *redis.Client
}

func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{cli: cli}, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID, userID string) error {
	return s.cli.Set(ctx, "session:"+sessionID, userID, TTL).Err()
}

func (s *RedisStore) UserID(ctx context.Context, sessionID string) (string, error) {
	key := "session:" + sessionID
	val, err := s.cli.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session get: %w", err)
	}
	// Sliding expiration: an active session never expires under the user.
	if err := s.cli.Expire(ctx, key, TTL).Err(); err != nil {
		return "", fmt.Errorf("session refresh ttl: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.cli.Del(ctx, "session:"+sessionID).Err()
}

func (s *RedisStore) Close() error {
	return s.cli.Close()
}
