package websocket

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel events travel on.
const DefaultChannel = "deliveryerp:events"

// RedisRelay publishes events on a Redis channel and feeds messages from that
// channel into the local hub, so every API instance reaches its own clients.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, message []byte) error {
	return r.client.Publish(ctx, r.channel, message).Err()
}

// Listen subscribes and delivers into hub until ctx is cancelled.
func (r *RedisRelay) Listen(ctx context.Context, hub *Hub) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before publishing starts
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("websocket relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			hub.Deliver([]byte(msg.Payload))
		}
	}
}
