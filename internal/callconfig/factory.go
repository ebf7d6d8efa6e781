package callconfig

import (
	"context"
	"strings"
	"time"
)

type Options struct {
	RedisURL       string
	RedisKeyPrefix string
	RedisTTL       time.Duration
	DatabaseURL    string
}

// NewStore prefers redis, then postgres, and falls back to in-memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	if strings.TrimSpace(opts.RedisURL) != "" {
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisKeyPrefix, opts.RedisTTL)
	}
	if strings.TrimSpace(opts.DatabaseURL) != "" {
		return NewPostgresStore(ctx, opts.DatabaseURL)
	}
	return NewInMemoryStore(), nil
}
