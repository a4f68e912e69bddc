package satusehat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultTokenKey is the redis key holding the cached access token.
const DefaultTokenKey = "satusehat:access_token"

// redisKV is the subset of *redis.Client the persister uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisTokenPersister keeps the access token in redis with a TTL matching
// its expiry, so restarts and sibling instances reuse it.
type RedisTokenPersister struct {
	client redisKV
	key    string
	now    func() time.Time
}

func NewRedisTokenPersister(client redisKV, key string) *RedisTokenPersister {
	if key == "" {
		key = DefaultTokenKey
	}
	return &RedisTokenPersister{client: client, key: key, now: time.Now}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (p *RedisTokenPersister) LoadToken(ctx context.Context) (*AccessToken, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var t AccessToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &t, nil
}

func (p *RedisTokenPersister) SaveToken(ctx context.Context, t AccessToken) error {
	ttl := t.ExpiresAt.Sub(p.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := p.client.Set(ctx, p.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (p *RedisTokenPersister) ClearToken(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("redis del token: %w", err)
	}
	return nil
}
