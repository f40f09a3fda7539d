package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prospectly/server/pkg/types"
)

// Redis is the shared cache backend for multi-process deployments. Responses
// are stored as JSON with a server-side TTL. Failures degrade to cache
// misses; the dispatcher proceeds without the cache.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis creates a Redis-backed cache.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger.With("component", "cache")}
}

func (r *Redis) Get(ctx context.Context, key string) (*types.Response, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	var resp types.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		r.logger.Warn("cache entry corrupt, ignoring", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}

func (r *Redis) Put(ctx context.Context, key string, resp *types.Response, ttl time.Duration) {
	if resp == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.logger.Warn("cache put failed", "key", key, "error", err)
	}
}
