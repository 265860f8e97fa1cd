package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "intake:message:"

// Deduper claims a message id before it is processed so that concurrent
// deliveries of the same message are handled once
type Deduper interface {
	// Claim returns false when the id was already claimed
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release frees a claim after a failed attempt so the message can be retried
	Release(ctx context.Context, messageID string) error
}

// RedisDeduper claims message ids with SETNX
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// buildKey format: intake:message:{message_id}
func (d *RedisDeduper) buildKey(messageID string) string {
	return claimKeyPrefix + messageID
}

func (d *RedisDeduper) Claim(ctx context.Context, messageID string) (bool, error) {
	acquired, err := d.client.SetNX(ctx, d.buildKey(messageID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	return acquired, nil
}

func (d *RedisDeduper) Release(ctx context.Context, messageID string) error {
	if err := d.client.Del(ctx, d.buildKey(messageID)).Err(); err != nil {
		return fmt.Errorf("failed to release message claim: %w", err)
	}
	return nil
}

// NoopDeduper claims everything; the message table's unique constraint is
// then the only guard
type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }

func (NoopDeduper) Release(context.Context, string) error { return nil }
