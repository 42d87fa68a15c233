package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains configuration for the Redis store.
type RedisConfig struct {
	// Addr is the Redis address.
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// Prefix is prepended to every key.
	// Default: "stepguard:idem:"
	Prefix string

	// Retention is the record TTL. Zero keeps records forever.
	Retention time.Duration
}

// RedisStore keeps records in Redis with SET NX, so any number of
// processes sharing the instance agree on one winner per key. Expiry is
// handled by Redis TTLs.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	owned     bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, newStoreError("redis", "ping", err)
	}

	s := NewRedisStoreWithClient(client, config.Prefix, config.Retention)
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. Close does not close
// a client passed in this way.
func NewRedisStoreWithClient(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "stepguard:idem:"
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) redisKey(scope, key string) string {
	return s.prefix + scope + ":" + key
}

// Get returns the record for (scope, key), or nil if absent.
func (s *RedisStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.redisKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, newStoreError("redis", "get", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, newStoreError("redis", "decode", err)
	}
	return &rec, nil
}

// Insert stores rec unless the key exists.
func (s *RedisStore) Insert(ctx context.Context, rec *Record) (*Record, bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, false, newStoreError("redis", "encode", err)
	}

	ok, err := s.client.SetNX(ctx, s.redisKey(rec.Scope, rec.Key), raw, s.retention).Result()
	if err != nil {
		return nil, false, newStoreError("redis", "insert", err)
	}
	if ok {
		stored := *rec
		return &stored, true, nil
	}

	existing, err := s.Get(ctx, rec.Scope, rec.Key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, newStoreError("redis", "insert",
			fmt.Errorf("record %q conflicted but has expired", rec.Key))
	}
	return existing, false, nil
}

// DeleteBefore is a no-op: Redis expires records by TTL.
func (s *RedisStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return newStoreError("redis", "close", err)
	}
	return nil
}
