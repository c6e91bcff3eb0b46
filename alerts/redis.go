package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-order-hub/core"
	redis "github.com/redis/go-redis/v9"
)

// RedisPublisher is the subset of *redis.Client used to publish alerts.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes JSON alerts on a pub/sub channel.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

func NewRedisSink(client RedisPublisher, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("alerts: redis client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, fmt.Errorf("alerts: redis channel is required")
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// NewRedisSinkFromURL dials nothing up front; go-redis connects lazily.
func NewRedisSinkFromURL(url string, channel string) (*RedisSink, *redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, nil, fmt.Errorf("alerts: parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	sink, err := NewRedisSink(client, channel)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return sink, client, nil
}

func (s *RedisSink) Notify(ctx context.Context, alert core.Alert) error {
	payload, err := encodeAlert(alert)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("alerts: publish to redis channel %s: %w", s.channel, err)
	}
	return nil
}

var _ core.AlertSink = (*RedisSink)(nil)
