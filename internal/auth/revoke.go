package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker remembers logged-out tokens by jti until they expire.
type Revoker interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

var (
	_ Revoker = (*MemoryRevoker)(nil)
	_ Revoker = (*RedisRevoker)(nil)
)

// MemoryRevoker keeps revoked tokens in process memory. Revocations are lost
// on restart and are not shared between replicas.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker creates an empty MemoryRevoker.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRevoker) Revoke(ctx context.Context, jti string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, exp := range r.revoked {
		if !exp.After(now) {
			delete(r.revoked, id)
		}
	}
	if until.After(now) {
		r.revoked[jti] = until
	}
	return nil
}

func (r *MemoryRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[jti]
	return ok && exp.After(r.now()), nil
}

// RedisConfig holds Redis connection settings for the revocation list.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to all keys
	KeyPrefix string
}

// RedisRevoker stores revoked jtis in Redis with a TTL equal to the token's
// remaining lifetime, so every replica sees a logout.
type RedisRevoker struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRevoker creates a Redis-backed revoker.
func NewRedisRevoker(cfg RedisConfig) (*RedisRevoker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "papertrade"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisRevoker{client: client, keyPrefix: prefix}, nil
}

// Ping checks the Redis connection.
func (r *RedisRevoker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRevoker) Close() error {
	return r.client.Close()
}

func (r *RedisRevoker) key(jti string) string {
	return fmt.Sprintf("%s:revoked:%s", r.keyPrefix, jti)
}

func (r *RedisRevoker) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revoked token: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}
