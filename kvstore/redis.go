package kvstore

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/redis/go-redis/v9"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/logctx"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("kvstore")
}

// Redis is a Store backed by a real Redis server, the "external
// key-value store" spec.md §6 names as persistence for queues and
// main memory for the cache tier.
type Redis struct {
	client *redis.Client
}

// NewRedis dials host:port (no auth, db 0), matching the original
// source's StrictRedis(host, port) defaults.
func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// defaultRedisPort matches the original's StrictRedis(..., port=6379)
// default, used when REDIS_HOST names a bare host with no port.
const defaultRedisPort = "6379"

// NewRedisFromHost dials host, appending the default Redis port if
// host doesn't already carry one (spec.md §6's REDIS_HOST is
// host-only).
func NewRedisFromHost(host string) *Redis {
	if !strings.Contains(host, ":") {
		host = host + ":" + defaultRedisPort
	}
	return NewRedis(host)
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) RPush(ctx context.Context, key string, value string) error {
	return r.client.RPush(ctx, key, value).Err()
}

func (r *Redis) LPush(ctx context.Context, key string, value string) error {
	return r.client.LPush(ctx, key, value).Err()
}

func (r *Redis) RPopLPush(ctx context.Context, src string, dst string) (string, bool, error) {
	val, err := r.client.RPopLPush(ctx, src, dst).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) LRem(ctx context.Context, key string, value string) error {
	return r.client.LRem(ctx, key, 1, value).Err()
}

func (r *Redis) HSet(ctx context.Context, key string, field string, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HGet(ctx context.Context, key string, field string) (string, bool, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) HDel(ctx context.Context, key string, field string) (bool, error) {
	n, err := r.client.HDel(ctx, key, field).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// matchGlob is used by Memory to emulate Redis KEYS pattern matching
// without pulling in a glob library for a single call site.
func matchGlob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	if err != nil {
		logger.Warningf("bad glob pattern %q: %v", pattern, err)
		return strings.Contains(s, strings.Trim(pattern, "*"))
	}
	return ok
}
