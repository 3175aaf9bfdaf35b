package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftegu/pkg/config"
	"github.com/4xmen/goftegu/pkg/log"
)

type RedisBus struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "goftegu:group"
	}

	return &RedisBus{
		client: client,
		prefix: prefix,
		log:    log.L().With().Str("component", "bus").Str("prefix", prefix).Logger(),
	}, nil
}

// Channel is the redis channel carrying frames for group.
func (b *RedisBus) Channel(group string) string {
	return b.prefix + ":" + group
}

func (b *RedisBus) Publish(ctx context.Context, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(f.Group), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", f.Group, err)
	}
	return nil
}

func (b *RedisBus) Listen(ctx context.Context, deliver func(*Frame)) error {
	ps := b.client.PSubscribe(ctx, b.prefix+":*")
	defer ps.Close()

	// Wait for the subscription to be confirmed so frames published after
	// Listen returns from here are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil || f.Event == nil {
				b.log.Debug().Str("channel", msg.Channel).Msg("dropping malformed frame")
				continue
			}
			deliver(&f)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
