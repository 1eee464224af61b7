package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the subset of the redis client the feed publisher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisFeedPublisher forwards dispatched events to a Redis pub/sub channel,
// where realtime gateways pick them up.
type RedisFeedPublisher struct {
	client  Publisher
	channel string
	logger  *zap.Logger
}

// NewRedisFeedPublisher builds a publisher for channel.
func NewRedisFeedPublisher(client Publisher, channel string, logger *zap.Logger) *RedisFeedPublisher {
	return &RedisFeedPublisher{client: client, channel: channel, logger: logger}
}

// Register subscribes the publisher to every event on the dispatcher.
func (p *RedisFeedPublisher) Register(dispatcher Dispatcher) {
	if dispatcher == nil || p.client == nil {
		return
	}
	dispatcher.SubscribeAll(p.Handle)
}

// Handle publishes a single event.
func (p *RedisFeedPublisher) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("change feed publish failed",
			zap.String("event_id", event.ID),
			zap.String("entity_id", event.EntityID),
			zap.Error(err))
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
