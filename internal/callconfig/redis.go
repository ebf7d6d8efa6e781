package callconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "phonebridge:config:"

// RedisStore keeps each blob as a JSON string under prefix+phone number.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisStore(client, prefix, ttl), nil
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisKeyPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(phoneNumber string) string {
	return s.prefix + NormalizePhone(phoneNumber)
}

func (s *RedisStore) Get(ctx context.Context, phoneNumber string) (Blob, error) {
	data, err := s.client.Get(ctx, s.key(phoneNumber)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("get call config: %w", err)
	}
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, fmt.Errorf("decode call config: %w", err)
	}
	if b.DynamicVariables == nil {
		b.DynamicVariables = map[string]string{}
	}
	return b, nil
}

func (s *RedisStore) Put(ctx context.Context, phoneNumber string, blob Blob) error {
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode call config: %w", err)
	}
	if err := s.client.Set(ctx, s.key(phoneNumber), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set call config: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, phoneNumber string) error {
	if err := s.client.Del(ctx, s.key(phoneNumber)).Err(); err != nil {
		return fmt.Errorf("delete call config: %w", err)
	}
	return nil
}

func (s *RedisStore) Mode() string { return "redis" }

func (s *RedisStore) Close() error { return s.client.Close() }
