package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupStore implements DedupStore using Redis. Suitable for
// deployments where several orchestrator instances share one dedup space.
type RedisDedupStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions holds Redis connection configuration
type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisDedupStore creates a Redis-backed dedup store and verifies the
// connection
func NewRedisDedupStore(opts RedisOptions) (*RedisDedupStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connecting to Redis: %w", err)
	}

	return &RedisDedupStore{
		client:    client,
		keyPrefix: "job:dedup:",
	}, nil
}

// NewRedisDedupStoreWithClient wraps an existing client, useful for tests
// and for sharing a client across components
func NewRedisDedupStoreWithClient(client *redis.Client, keyPrefix string) *RedisDedupStore {
	if keyPrefix == "" {
		keyPrefix = "job:dedup:"
	}
	return &RedisDedupStore{client: client, keyPrefix: keyPrefix}
}

// Reserve claims the key with SETNX so exactly one submitter wins; losers
// read back the winner's job ID
func (s *RedisDedupStore) Reserve(ctx context.Context, key, jobID string, ttl time.Duration) (string, bool, error) {
	redisKey := s.keyPrefix + key

	won, err := s.client.SetNX(ctx, redisKey, jobID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("cache: reserving dedup key: %w", err)
	}
	if won {
		return jobID, true, nil
	}

	existing, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Holder expired between SETNX and GET; retry the claim once.
		return s.Reserve(ctx, key, jobID, ttl)
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: reading dedup key holder: %w", err)
	}
	return existing, false, nil
}

// Lookup returns the job ID holding the key
func (s *RedisDedupStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	jobID, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: looking up dedup key: %w", err)
	}
	return jobID, true, nil
}

// Release frees the key
func (s *RedisDedupStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: releasing dedup key: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisDedupStore) Close() error {
	return s.client.Close()
}

var _ DedupStore = (*RedisDedupStore)(nil)
