package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "authflow"

// Config describes the Redis connection shared by the session host and the
// callback claim store.
type Config struct {
	URL          string        `koanf:"url" mapstructure:"url"`
	KeyPrefix    string        `koanf:"key_prefix" mapstructure:"key_prefix"`
	PoolSize     int           `koanf:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
}

// NewClient parses cfg.URL, applies the pool overrides and pings the server.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redisstore: url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	return client, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return defaultKeyPrefix
	}
	return prefix
}
