package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// JobHandler processes jobs from streams.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// ErrDropMessage wraps handler errors that retrying cannot fix. Such messages
// go straight to the DLQ instead of waiting for the pending reclaim.
var ErrDropMessage = errors.New("drop message")

// Consumer consumes messages from Redis Streams in a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	batchSize int64
	block     time.Duration

	// Pending 메시지 재처리 설정
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	BatchSize int
	Block     time.Duration

	// Optional: Pending 설정 (기본값 사용 가능)
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger,
		batchSize:            int64(cfg.BatchSize),
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
	if c.batchSize <= 0 {
		c.batchSize = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.pendingCheckInterval <= 0 {
		c.pendingCheckInterval = 60 * time.Second
	}
	if c.pendingIdleTime <= 0 {
		// follow-up jobs use a short backoff; 2분 idle 이후 재처리
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	for _, stream := range c.streams {
		c.createConsumerGroup(ctx, stream)
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
			continue
		}

		c.handleBatch(ctx, result)
	}
}

// handleBatch runs one XREADGROUP result with at most batchSize handlers in flight.
func (c *Consumer) handleBatch(ctx context.Context, result []redis.XStream) {
	var g errgroup.Group
	g.SetLimit(int(c.batchSize))
	for _, stream := range result {
		name := stream.Stream
		for _, msg := range stream.Messages {
			msg := msg
			g.Go(func() error {
				c.handleMessage(ctx, name, msg)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// handleMessage runs the handler and acks on success. Failed messages stay
// pending for the reclaim loop unless the handler asked to drop them.
func (c *Consumer) handleMessage(ctx context.Context, stream string, msg redis.XMessage) {
	err := c.processMessage(ctx, stream, msg)
	if err == nil {
		c.ack(ctx, stream, msg.ID)
		return
	}

	if errors.Is(err, ErrDropMessage) {
		c.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("dropping message")
		if dlqErr := c.deadLetter(ctx, stream, msg, err); dlqErr != nil {
			c.log.Error().Err(dlqErr).Str("id", msg.ID).Msg("error moving message to DLQ")
		}
		c.ack(ctx, stream, msg.ID)
		return
	}

	c.log.Error().
		Err(err).
		Str("stream", stream).
		Str("id", msg.ID).
		Msg("error processing message")
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", id).Msg("error acknowledging message")
	}
}

// processPendingMessages periodically reclaims stuck pending messages.
func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.streams {
				c.claimAndProcessPending(ctx, stream)
			}
		}
	}
}

// claimAndProcessPending retries idle pending messages; messages delivered
// maxRetries times are moved to the DLQ.
func (c *Consumer) claimAndProcessPending(ctx context.Context, stream string) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Idle:   c.pendingIdleTime,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Str("stream", stream).Msg("error getting pending messages")
		}
		return
	}

	for _, p := range pending {
		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.pendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
			continue
		}

		for _, msg := range claimed {
			if int(p.RetryCount) >= c.maxRetries {
				c.log.Warn().
					Str("stream", stream).
					Str("id", p.ID).
					Int64("retries", p.RetryCount).
					Msg("message exceeded max retries, moving to DLQ")
				if err := c.deadLetter(ctx, stream, msg, errors.New("max retries exceeded")); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
					continue
				}
				c.ack(ctx, stream, msg.ID)
				continue
			}

			c.log.Info().
				Str("stream", stream).
				Str("id", msg.ID).
				Dur("idle", p.Idle).
				Int64("retries", p.RetryCount).
				Msg("reprocessing pending message")
			c.handleMessage(ctx, stream, msg)
		}
	}
}

// createConsumerGroup creates a consumer group if it doesn't exist.
func (c *Consumer) createConsumerGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		c.log.Warn().Err(err).Str("stream", stream).Msg("error creating consumer group")
	}
}

// readMessages reads new messages from all streams using XREADGROUP.
func (c *Consumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, redis.Nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batchSize,
		Block:    c.block,
	}).Result()
}

// processMessage decodes the envelope and hands the payload to the handler.
func (c *Consumer) processMessage(ctx context.Context, stream string, msg redis.XMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("%w: missing data field", ErrDropMessage)
	}
	return c.handler.Handle(ctx, stream, []byte(data))
}

// deadLetter copies msg to dlq:<stream> with failure metadata.
func (c *Consumer) deadLetter(ctx context.Context, stream string, msg redis.XMessage, cause error) error {
	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"error":           cause.Error(),
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqPrefix + stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}
	return nil
}
