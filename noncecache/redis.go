package noncecache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a nonce cache shared by every server pointing at the same Redis
// database.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis wraps client. Keys are written as prefix:nonce when prefix is set.
func NewRedis(client redis.UniversalClient, ttl time.Duration, prefix string) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

// RedisOptions configures DialRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DialRedis connects to Redis, verifies the connection and returns a cache
// owning the client.
func DialRedis(ctx context.Context, opts RedisOptions, ttl time.Duration) (*Redis, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("noncecache: redis ping failed: %w", err)
	}

	return NewRedis(rdb, ttl, opts.Prefix), nil
}

func (r *Redis) key(nonce string) string {
	if r.prefix == "" {
		return nonce
	}

	return r.prefix + ":" + nonce
}

// Seen implements Cache.
func (r *Redis) Seen(ctx context.Context, nonce string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(nonce)).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// MarkSeen implements Cache.
func (r *Redis) MarkSeen(ctx context.Context, nonce string) error {
	return r.client.SetNX(ctx, r.key(nonce), 1, r.ttl).Err()
}

// CheckAndMark implements Cache using SET NX, which Redis executes
// atomically.
func (r *Redis) CheckAndMark(ctx context.Context, nonce string) (bool, error) {
	set, err := r.client.SetNX(ctx, r.key(nonce), 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return !set, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
