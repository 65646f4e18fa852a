package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// SourceCache keeps resolved sources in Redis so a scroll back through
// the feed does not re-hit the resolver endpoint. A nil *SourceCache is
// a valid pass-through.
type SourceCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewSourceCache(url string, ttl time.Duration) (*SourceCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &SourceCache{Client: redis.NewClient(opt), TTL: ttl}, nil
}

func (c *SourceCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.Client == nil {
		return false, nil
	}
	val, err := c.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *SourceCache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.Client == nil {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, b, c.TTL).Err()
}
