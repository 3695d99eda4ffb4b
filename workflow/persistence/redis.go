package persistence

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "flowgraph:"

// RedisOption configures the redis backends.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
}

// WithKeyPrefix sets the prefix of every key written.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL expires finished records after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) { c.ttl = ttl }
}

func newRedisConfig(opts []RedisOption) redisConfig {
	cfg := redisConfig{prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// isNil reports whether err is go-redis' missing-key marker.
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
