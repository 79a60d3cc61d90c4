package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisClient is the subset of redis commands the publisher needs. It allows
// mocking for unit tests.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	client  RedisClient
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher returns a publisher for the given channel.
func NewRedisPublisher(client RedisClient, channel string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis-publisher").Logger(),
	}
}

// Publish sends the event as JSON. Errors are logged only.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode event")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("action", event.Action).Msg("failed to publish event")
	}
}
