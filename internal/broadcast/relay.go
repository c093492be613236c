package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"linkgate.org/internal/obs"
)

// DefaultTopic is the Redis pub/sub channel shared by all API instances.
const DefaultTopic = "linkgate:broadcast"

// RedisRelay forwards messages between API instances over Redis pub/sub.
type RedisRelay struct {
	client redis.UniversalClient
	topic  string
	origin string
	hub    *Hub
}

// NewRedisRelay relays messages on topic into hub. origin identifies this instance.
func NewRedisRelay(client redis.UniversalClient, topic, origin string, hub *Hub) *RedisRelay {
	if topic == "" {
		topic = DefaultTopic
	}
	return &RedisRelay{client: client, topic: topic, origin: origin, hub: hub}
}

// Publish sends msg to the other instances.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	msg.Origin = r.origin
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.topic, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run delivers messages published by other instances into the local hub until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.topic)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	logger := obs.Logger().With(zap.String("topic", r.topic))
	logger.Info("broadcast relay subscribed")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(logger, m.Payload)
		}
	}
}

func (r *RedisRelay) deliver(logger *zap.Logger, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Warn("drop malformed relay message", zap.Error(err))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.hub.Publish(msg)
}
