package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache provides short-lived distributed locks. The due orchestrator
// uses one to guard the provider-customer lazy creation.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Println("Redis connection established")
	return &RedisCache{client: client}, nil
}

// AcquireLock tries to take a lock via SETNX. It returns the lock token on
// success; the token must be passed back to ReleaseLock.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.New().String()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false
	}
	return token, true
}

// ReleaseLock releases a lock previously taken with AcquireLock. The lock is
// only removed when it still holds the caller's token.
func (c *RedisCache) ReleaseLock(ctx context.Context, key, token string) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil || val != token {
		return
	}
	c.client.Del(ctx, key)
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
