// README: Redis pub/sub sink; channel name is the notification topic under a prefix.
package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type RedisSink struct {
	client redisPublisher
	prefix string
}

func NewRedisSink(client redisPublisher, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Channel(topic string) string { return r.prefix + topic }

func (r *RedisSink) Send(ctx context.Context, m Message) error {
	return r.client.Publish(ctx, r.Channel(m.Topic), []byte(m.Payload)).Err()
}
