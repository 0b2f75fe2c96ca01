package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openclass/support-chat/internal/config"
	"github.com/openclass/support-chat/internal/domain"
)

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(cfg config.RedisConfig, prefix string) (*RedisCache, error) {
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

	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) roomKey(chatID string) string {
	return fmt.Sprintf("%s:room:%s", c.prefix, chatID)
}

func (c *RedisCache) historyKey(chatID string, limit int) string {
	return fmt.Sprintf("%s:history:%s:%d", c.prefix, chatID, limit)
}

func (c *RedisCache) GetRoom(ctx context.Context, chatID string) (*domain.ChatRoom, error) {
	data, err := c.client.Get(ctx, c.roomKey(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var room domain.ChatRoom
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached room: %w", err)
	}
	return &room, nil
}

func (c *RedisCache) SetRoom(ctx context.Context, room *domain.ChatRoom, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	return c.client.Set(ctx, c.roomKey(room.ChatID), data, ttl).Err()
}

func (c *RedisCache) InvalidateRoom(ctx context.Context, chatID string) error {
	return c.client.Del(ctx, c.roomKey(chatID)).Err()
}

func (c *RedisCache) GetHistory(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	data, err := c.client.Get(ctx, c.historyKey(chatID, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var messages []domain.ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached history: %w", err)
	}
	return messages, nil
}

func (c *RedisCache) SetHistory(ctx context.Context, chatID string, limit int, messages []domain.ChatMessage, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return c.client.Set(ctx, c.historyKey(chatID, limit), data, ttl).Err()
}

func (c *RedisCache) InvalidateHistory(ctx context.Context, chatID string) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s:history:%s:*", c.prefix, chatID), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
