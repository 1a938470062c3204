package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/domain"
)

// ErrKeyNotFound is returned by Get and TTL for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is the subset of key-value operations the token registry and
// the user cache rely on. Values are opaque; callers own serialization.
// Every failure other than ErrKeyNotFound wraps domain.ErrStoreUnavailable.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Take atomically reads and deletes key. Of concurrent callers at most
	// one gets the value; the rest see ErrKeyNotFound.
	Take(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of key, or zero when it never expires.
	TTL(ctx context.Context, key string) (time.Duration, error)
	SetAdd(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRemove(ctx context.Context, key string, members ...string) error
}

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

var _ KeyValueStore = (*Redis)(nil)

// NewRedis connects to Redis using the provided configuration. An unreachable
// server is logged, not fatal: callers degrade per operation.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ping := func() error { return client.Ping(ctx).Err() }
	if err := retry(ctx, cfg.ConnectTimeout, ping, logger.With(zap.String("dependency", "redis"))); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return val, nil
}

// Take uses GETDEL so the read and the delete happen as one command.
func (r *Redis) Take(ctx context.Context, key string) ([]byte, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	val, err := r.Client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, unavailable("getdel", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	n, err := r.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

// Delete removes all keys in a single DEL so a pair is dropped atomically.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.Client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", keys[0], err)
	}
	return nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.Client.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("expire", key, err)
	}
	return nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	ttl, err := r.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", key, err)
	}
	// go-redis reports -2 for a missing key and -1 for a key without expiry.
	switch ttl {
	case -2:
		return 0, ErrKeyNotFound
	case -1:
		return 0, nil
	}
	return ttl, nil
}

func (r *Redis) SetAdd(ctx context.Context, key string, members ...string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.Client.SAdd(ctx, key, toArgs(members)...).Err(); err != nil {
		return unavailable("sadd", key, err)
	}
	return nil
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	members, err := r.Client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("smembers", key, err)
	}
	return members, nil
}

func (r *Redis) SetRemove(ctx context.Context, key string, members ...string) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.Client.SRem(ctx, key, toArgs(members)...).Err(); err != nil {
		return unavailable("srem", key, err)
	}
	return nil
}

func (r *Redis) ready() error {
	if r == nil || r.Client == nil {
		return fmt.Errorf("redis client not configured: %w", domain.ErrStoreUnavailable)
	}
	return nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("redis %s %q: %w: %w", op, key, domain.ErrStoreUnavailable, err)
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
