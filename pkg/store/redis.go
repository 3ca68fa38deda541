package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "treesync:snapshot:"

// RedisStore is a Redis-backed snapshot store, suitable when several
// servers share documents or sessions must survive restarts.
type RedisStore struct {
	client backend.Cmdable
	prefix string
	ttl    time.Duration
	closer func() error
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL sets the snapshot expiration. Zero means no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a store that owns a new client for address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	s := NewRedisStoreFromClient(rdb, opts...)
	s.closer = rdb.Close
	return s
}

// NewRedisStoreFromClient creates a store on a shared client. Close does
// not close the client.
func NewRedisStoreFromClient(client backend.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the Redis key for a session key. Session keys can be long,
// so they are hashed.
func (s *RedisStore) Key(key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.prefix + hex.EncodeToString(sum[:16])
}

// Save persists the snapshot.
func (s *RedisStore) Save(ctx context.Context, key string, snap *Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: save to redis: %w", err)
	}
	return nil
}

// Load retrieves the snapshot.
func (s *RedisStore) Load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load from redis: %w", err)
	}
	return Decode(data)
}

// Ping checks that the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: redis ping: %w", err)
	}
	return nil
}

// Delete removes the snapshot.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.Key(key)).Err()
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
