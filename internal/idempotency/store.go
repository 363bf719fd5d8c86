// Package idempotency maps client-supplied idempotency keys to the batches
// they created, so that a retried submission returns the original batch
// instead of starting a second one.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/helixir/keyword-research-service/internal/domain"
)

// keyPrefix namespaces idempotency keys in Redis.
const keyPrefix = "kwresearch:idempotency:"

// pendingMarker is stored while the first request for a key is in flight.
const pendingMarker = "pending"

// ErrInProgress is returned when another request holding the same key has
// not finished yet.
var ErrInProgress = fmt.Errorf("request with this idempotency key is in progress: %w", domain.ErrAlreadyExists)

// Reservation is the result of Reserve.
type Reservation struct {
	// Reserved is true when the caller owns the key and must Commit or
	// Release it.
	Reserved bool
	// BatchID is the batch created by an earlier request with the same key.
	// Set only when Reserved is false.
	BatchID uuid.UUID
}

// RedisStore keeps idempotency keys in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(clientID, key string) string {
	return keyPrefix + clientID + ":" + key
}

// Reserve claims key for clientID. If an earlier request already completed
// with this key, its batch ID is returned instead.
func (s *RedisStore) Reserve(ctx context.Context, clientID, key string) (Reservation, error) {
	k := redisKey(clientID, key)

	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return Reservation{Reserved: true}, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return Reservation{Reserved: true}, nil
		}
		return Reservation{}, ErrInProgress
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if val == pendingMarker {
		return Reservation{}, ErrInProgress
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return Reservation{}, fmt.Errorf("corrupt idempotency record %q: %w", k, err)
	}
	return Reservation{BatchID: id}, nil
}

// Commit records the batch created under a reserved key.
func (s *RedisStore) Commit(ctx context.Context, clientID, key string, batchID uuid.UUID) error {
	if err := s.client.Set(ctx, redisKey(clientID, key), batchID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to commit idempotency key: %w", err)
	}
	return nil
}

// Release frees a reserved key after a failed submission so it can be
// retried.
func (s *RedisStore) Release(ctx context.Context, clientID, key string) error {
	if err := s.client.Del(ctx, redisKey(clientID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
