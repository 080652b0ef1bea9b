package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyState is the outcome of reserving an idempotency key.
type IdempotencyState int

const (
	// IdempotencyNew means the caller owns the key and must Complete or
	// Release it.
	IdempotencyNew IdempotencyState = iota
	// IdempotencyInFlight means another request holds the key.
	IdempotencyInFlight
	// IdempotencyDone means the key completed; the stored record is returned.
	IdempotencyDone
)

// Idempotency records create calls so that a retried create returns the
// first result instead of inserting twice.
type Idempotency interface {
	Begin(ctx context.Context, key string) (IdempotencyState, []byte, error)
	Complete(ctx context.Context, key string, record []byte) error
	Release(ctx context.Context, key string) error
}

const inFlightMarker = "-"

// RedisIdempotency stores idempotency keys in Redis so every API instance
// shares them.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency creates an idempotency store using the provided
// Redis client and TTL.
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (r *RedisIdempotency) key(key string) string {
	return fmt.Sprintf("idem:%s", key)
}

// Begin reserves key. When the key already exists it reports whether the
// earlier request is still running or returns its stored record.
func (r *RedisIdempotency) Begin(ctx context.Context, key string) (IdempotencyState, []byte, error) {
	for i := 0; i < 2; i++ {
		added, err := r.client.SetNX(ctx, r.key(key), inFlightMarker, r.ttl).Result()
		if err != nil {
			return IdempotencyNew, nil, err
		}
		if added {
			return IdempotencyNew, nil, nil
		}
		val, err := r.client.Get(ctx, r.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired between SetNX and Get.
			continue
		}
		if err != nil {
			return IdempotencyNew, nil, err
		}
		if string(val) == inFlightMarker {
			return IdempotencyInFlight, nil, nil
		}
		return IdempotencyDone, val, nil
	}
	return IdempotencyInFlight, nil, nil
}

// Complete stores the record produced for key.
func (r *RedisIdempotency) Complete(ctx context.Context, key string, record []byte) error {
	return r.client.Set(ctx, r.key(key), record, r.ttl).Err()
}

// Release deletes a reserved key. It is used when the create failed so the
// caller may retry.
func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
