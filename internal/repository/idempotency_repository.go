package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyRepository maps client-supplied Idempotency-Key headers to the
// resource they produced, so a retried create returns the original resource
// instead of a duplicate. Keys are scoped per user and expire after the
// configured TTL.
type IdempotencyRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyRepository constructs the store. A nil client disables
// idempotency tracking entirely.
func NewIdempotencyRepository(client *redis.Client, ttl time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{client: client, ttl: ttl}
}

func (r *IdempotencyRepository) redisKey(userID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", userID, key)
}

// Remember records key→resourceID if the key is unseen. It returns the
// winning resource id and whether this call claimed the key: on a replay the
// original id comes back with claimed=false.
func (r *IdempotencyRepository) Remember(ctx context.Context, userID, key, resourceID string) (string, bool, error) {
	if r.client == nil || key == "" {
		return resourceID, true, nil
	}

	redisKey := r.redisKey(userID, key)
	claimed, err := r.client.SetNX(ctx, redisKey, resourceID, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return resourceID, true, nil
	}

	existing, err := r.client.Get(ctx, redisKey).Result()
	if err != nil {
		if err == redis.Nil {
			// Key expired between SetNX and Get; treat as fresh.
			return resourceID, true, nil
		}
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return existing, false, nil
}

// Lookup returns the resource id previously stored under the key, if any.
func (r *IdempotencyRepository) Lookup(ctx context.Context, userID, key string) (string, bool, error) {
	if r.client == nil || key == "" {
		return "", false, nil
	}
	existing, err := r.client.Get(ctx, r.redisKey(userID, key)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return existing, true, nil
}
