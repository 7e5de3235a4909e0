package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisNotReady = errors.New("redis is not ready")

// Redis is a fixed-window limiter backed by INCR and EXPIRE.
type Redis struct {
	Client redis.Cmdable
	Limit  int
	Window time.Duration
	Prefix string
}

func NewRedis(client redis.Cmdable, limit int, window time.Duration) *Redis {
	return &Redis{Client: client, Limit: limit, Window: window, Prefix: "accounts:signin:"}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.Prefix + key
	var incr *redis.IntCmd
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		// NX keeps the first expiry so the window does not slide
		pipe.ExpireNX(ctx, k, r.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("counting attempt: %w", err)
	}
	return incr.Val() <= int64(r.Limit), nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.Prefix+key).Err()
}

// Connect parses url and pings the server until it answers or ctx is done.
func Connect(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if attempts < 1 {
		attempts = 1
	}
	for range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrRedisNotReady
}
