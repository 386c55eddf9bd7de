package pubsub

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisBlockTimeout = 5 * time.Second
	defaultRedisKeyPrefix    = "extension:events:"
)

// BrokerOption defines an option for configuring the Broker.
type BrokerOption func(*brokerOptions)

type brokerOptions struct {
	redisClient redis.Cmdable // selects the Redis backend when set
	redisOpts   []RedisOption
}

// WithRedisClient provides a Redis client for the Redis PubSub backend.
func WithRedisClient(client redis.Cmdable, opts ...RedisOption) BrokerOption {
	return func(o *brokerOptions) {
		o.redisClient = client
		o.redisOpts = opts
	}
}

// RedisOption configures the Redis backend.
type RedisOption func(*redisOptions)

type redisOptions struct {
	blockTimeout time.Duration // how long BLPOP waits before re-checking for shutdown
	keyPrefix    string        // list key = prefix + topic
}

func defaultRedisOptions() redisOptions {
	return redisOptions{
		blockTimeout: defaultRedisBlockTimeout,
		keyPrefix:    defaultRedisKeyPrefix,
	}
}

// WithBlockTimeout sets the BLPOP block time. Defaults to 5 seconds.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		if d > 0 {
			o.blockTimeout = d
		}
	}
}

// WithKeyPrefix sets the prefix of the Redis list keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}
