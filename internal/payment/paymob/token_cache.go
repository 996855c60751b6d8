package paymob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// AuthTokenKey is the Redis key holding the cached Paymob auth token.
	AuthTokenKey = "paymob_auth_token"
	// refresh this long before the recorded expiry
	tokenExpiryBuffer = time.Minute
)

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *cachedToken) valid(now time.Time) bool {
	return t != nil && t.Token != "" && now.Add(tokenExpiryBuffer).Before(t.ExpiresAt)
}

// RedisTokenCache stores the auth token in Redis so every replica shares one.
type RedisTokenCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisTokenCache(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	if ttl <= 0 {
		ttl = 50 * time.Minute
	}
	return &RedisTokenCache{Client: client, TTL: ttl}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, error) {
	if c.Client == nil {
		return "", fmt.Errorf("redis client not initialized")
	}

	raw, err := c.Client.Get(ctx, AuthTokenKey).Result()
	if err == redis.Nil {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var cached cachedToken
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return "", fmt.Errorf("failed to unmarshal cached token: %w", err)
	}
	if !cached.valid(time.Now()) {
		return "", nil
	}
	return cached.Token, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, token string) error {
	if c.Client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	raw, err := json.Marshal(cachedToken{Token: token, ExpiresAt: time.Now().Add(c.TTL)})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := c.Client.Set(ctx, AuthTokenKey, raw, c.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}
