package notifier

import (
	"context"

	"escrow-pay.backend/pkg/redis"
)

// RedisSink publishes on a Redis pub/sub channel named after the topic.
type RedisSink struct {
	prefix string
}

// NewRedisSink creates a sink on the shared redis client. prefix is prepended
// to every channel name.
func NewRedisSink(prefix string) *RedisSink {
	return &RedisSink{prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, topic string, payload []byte) error {
	return redis.Publish(ctx, s.prefix+topic, payload)
}
