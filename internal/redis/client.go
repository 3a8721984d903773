package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions configures the slot lock connection. Zero values fall back
// to the defaults below.
type ClientOptions struct {
	Addr     string
	Username string
	Password string

	// DialTimeout also bounds each read and write.
	DialTimeout time.Duration
	PoolSize    int
	// PingAttempts is how often the startup ping is tried before giving up.
	PingAttempts int
}

const (
	defaultDialTimeout  = 2 * time.Second
	defaultPoolSize     = 10
	defaultPingAttempts = 3
)

func (o ClientOptions) withDefaults() ClientOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	if o.PingAttempts <= 0 {
		o.PingAttempts = defaultPingAttempts
	}
	return o
}

func (o ClientOptions) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           0,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.DialTimeout,
		WriteTimeout: o.DialTimeout,
		PoolSize:     o.PoolSize,
		MinIdleConns: 1,
		MaxRetries:   -1,
	}
}

// NewRedisClient connects and pings, retrying the ping with a growing pause.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	opts = opts.withDefaults()
	rdb := redis.NewClient(opts.redisOptions())

	var err error
	for attempt := 1; attempt <= opts.PingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return rdb, nil
		}
		if attempt == opts.PingAttempts {
			break
		}

		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("ping redis after %d attempts: %w", opts.PingAttempts, err)
}
