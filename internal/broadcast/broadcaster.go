package broadcast

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Broadcaster publishes to the local hub and, when configured, to the relay.
type Broadcaster struct {
	hub   *Hub
	relay *RedisRelay
	now   func() time.Time
}

// NewBroadcaster builds a broadcaster. relay may be nil for single-instance deployments.
func NewBroadcaster(hub *Hub, relay *RedisRelay) *Broadcaster {
	return &Broadcaster{hub: hub, relay: relay, now: func() time.Time { return time.Now().UTC() }}
}

func (b *Broadcaster) Broadcast(ctx context.Context, channel, event string, data map[string]any) error {
	msg := Message{Channel: channel, Event: event, Data: data, SentAt: b.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.hub.Publish(msg)
		return nil
	})
	if b.relay != nil {
		g.Go(func() error {
			return b.relay.Publish(gctx, msg)
		})
	}
	return g.Wait()
}
