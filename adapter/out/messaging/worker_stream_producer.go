// Package messaging provides the Redis Streams adapters for calendar follow-up jobs.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamCalendarFollowUp = "calendar:followup"

	// dead letters land in dlq:<stream>
	dlqPrefix = "dlq:"
)

// streamMaxLen caps each stream (approximate trim on XADD).
const streamMaxLen = 10000

// RedisProducer implements out.FollowUpProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishCalendarFollowUp publishes a follow-up job.
func (p *RedisProducer) PublishCalendarFollowUp(ctx context.Context, job *domain.CalendarFollowUpJob) error {
	return p.publish(ctx, StreamCalendarFollowUp, job)
}

// StreamLength returns the number of entries in stream and in its DLQ.
func (p *RedisProducer) StreamLength(ctx context.Context, stream string) (pending, dead int64, err error) {
	pending, err = p.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("xlen %s: %w", stream, err)
	}
	dead, err = p.client.XLen(ctx, dlqPrefix+stream).Result()
	if err != nil && err != redis.Nil {
		return pending, 0, fmt.Errorf("xlen %s: %w", dlqPrefix+stream, err)
	}
	return pending, dead, nil
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.FollowUpProducer
var _ out.FollowUpProducer = (*RedisProducer)(nil)
