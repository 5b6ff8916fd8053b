// Package config loads the settings of every component from defaults and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/coordination"
	"github.com/goliatone/go-repository-core/lock"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/goliatone/go-repository-core/unitofwork"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix Load uses when none is given.
const DefaultEnvPrefix = "CORE_"

const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// DocumentConfig selects the document store driver.
type DocumentConfig struct {
	// Driver is one of memory, mongo or sqlite. Default: "memory"
	Driver string `koanf:"driver" validate:"oneof=memory mongo sqlite"`

	// URI is the mongo connection string or the sqlite DSN.
	URI string `koanf:"uri" validate:"required_unless=Driver memory"`

	// Database is the logical database units of work start on.
	Database string `koanf:"database" validate:"required"`

	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gte=0"`
}

// Config is the full configuration tree. Each section maps to an environment
// namespace, e.g. CORE_REDIS_ADDR sets Redis.Addr.
type Config struct {
	Document   DocumentConfig           `koanf:"document"`
	Redis      coordination.RedisConfig `koanf:"redis"`
	Cache      cache.Config             `koanf:"cache"`
	Lock       lock.Config              `koanf:"lock"`
	UnitOfWork unitofwork.Config        `koanf:"unitofwork"`
	Logger     logger.Config            `koanf:"logger"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Document: DocumentConfig{
			Driver:         DriverMemory,
			Database:       "app",
			ConnectTimeout: 10 * time.Second,
		},
		Redis: coordination.RedisConfig{
			PingTimeout: 5 * time.Second,
		},
		Cache:      cache.DefaultConfig(),
		Lock:       lock.DefaultConfig(),
		UnitOfWork: unitofwork.DefaultConfig(),
		Logger:     logger.Config{Env: "dev", Level: "info"},
	}
}

// Load layers the environment over Default and validates the result. An
// empty prefix means DefaultEnvPrefix.
func Load(prefix string) (Config, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: prefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(strings.TrimPrefix(key, prefix)), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the whole tree, including the cache settings that carry
// their own rules.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Cache.Backend == cache.BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("config: cache backend %q needs redis.addr", c.Cache.Backend)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	return nil
}

// envKey maps REDIS_PING_TIMEOUT to redis.ping_timeout: the first segment is
// the section, the rest is the field.
func envKey(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_'
	})
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}
