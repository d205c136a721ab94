// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of redis.Client the publisher uses
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events on the Redis channel "<prefix><resource>.<operation>"
type RedisPublisher struct {
	client RedisClient
	prefix string
}

// NewRedisPublisher creates a publisher on client. Channels are prefixed with prefix.
func NewRedisPublisher(client RedisClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel of an event
func (p *RedisPublisher) Channel(event Event) string {
	return p.prefix + event.Topic()
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	raw, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("cannot marshal event: %w", err)
	}
	if err = p.client.Publish(ctx, p.Channel(event), raw).Err(); err != nil {
		return fmt.Errorf("cannot publish event %s to redis: %w", event.Topic(), err)
	}
	return nil
}
