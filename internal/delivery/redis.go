package delivery

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
)

// Redis PUBLISHes each message to ChannelPrefix + channel.
type Redis struct {
	client *redis.Client
	prefix string
}

func DialRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}
	return NewRedis(c, cfg.ChannelPrefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(c *redis.Client, prefix string) *Redis {
	return &Redis{client: c, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Send(ctx context.Context, env dispatch.Envelope) error {
	_, payload, err := encode(env)
	if err != nil {
		return dispatch.NewDeliveryError(r.Name(), dispatch.ReasonRejected, err)
	}
	if err := r.client.Publish(ctx, r.prefix+env.Target.Channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Close(context.Context) error { return r.client.Close() }
