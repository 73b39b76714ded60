package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/internal/domain"
)

type RedisMessageCache struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageCache(cfg config.RedisConfig, prefix string) (*RedisMessageCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMessageCache{
		client: client,
		prefix: prefix,
	}, nil
}

func (c *RedisMessageCache) BuildKey(roomID string, limit int) string {
	return fmt.Sprintf("%s:room:%s:recent:%d", c.prefix, roomID, limit)
}

func (c *RedisMessageCache) Get(ctx context.Context, key string) ([]domain.Message, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return messages, nil
}

func (c *RedisMessageCache) Set(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Invalidate drops every cached page for the room. Called after each append
// so replay never serves a stale tail longer than one round trip.
func (c *RedisMessageCache) Invalidate(ctx context.Context, roomID string) error {
	pattern := fmt.Sprintf("%s:room:%s:recent:*", c.prefix, roomID)

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *RedisMessageCache) Close() error {
	return c.client.Close()
}
