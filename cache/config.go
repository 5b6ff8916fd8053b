package cache

import (
	"fmt"
	"time"

	"github.com/goliatone/go-repository-core/internal/cacheinfra"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects the cache backend. Capacity, NumShards, TTL and the eviction
// settings configure the in-process sturdyc backend. RedisTTL is the expiry
// of entries written to redis; zero leaves eviction to the redis server.
type Config struct {
	Backend            string        `koanf:"backend"`
	Capacity           int           `koanf:"capacity"`
	NumShards          int           `koanf:"num_shards"`
	TTL                time.Duration `koanf:"ttl"`
	EvictionPercentage int           `koanf:"eviction_percentage"`
	EvictionInterval   time.Duration `koanf:"eviction_interval"`
	RedisTTL           time.Duration `koanf:"redis_ttl"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := cacheinfra.DefaultConfig()
	return Config{
		Backend:            BackendMemory,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Backend)
	}
	if c.RedisTTL < 0 {
		return fmt.Errorf("cache: redis_ttl must not be negative")
	}
	return c.toInternal().Validate()
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}
