package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis client the store needs, so tests
// and callers can pass a *redis.Client, a cluster client or a fake.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Close() error
}

const (
	compareAndDeleteScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	compareAndExpireScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

	defaultPingTimeout = 5 * time.Second
)

// RedisConfig configures NewRedis. An empty Addr means redis is not used.
type RedisConfig struct {
	Addr        string        `koanf:"addr" validate:"omitempty,hostname_port"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db" validate:"gte=0"`
	PingTimeout time.Duration `koanf:"ping_timeout"`
}

// Redis is a Store backed by redis.
type Redis struct {
	client RedisClient
	once   sync.Once
}

var _ Store = (*Redis)(nil)

// NewRedis dials redis and checks connectivity within cfg.PingTimeout.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("coordination: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("coordination: ping redis (timeout=%s): %w", timeout, err)
	}
	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client RedisClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := r.client.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("coordination: expire needs a positive ttl, got %s", ttl)
	}
	n, err := r.client.Eval(ctx, compareAndExpireScript, []string{key}, expected, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes the underlying client once.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.client.Close()
	})
	return err
}
