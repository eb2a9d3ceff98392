package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Enqueuer hands freshly created jobs to the submit consumer over a Redis
// stream, so the HTTP request returns without waiting on the provider.
type Enqueuer struct {
	client *redis.Client
	stream string
}

func NewEnqueuer(client *redis.Client, stream string) *Enqueuer {
	return &Enqueuer{client: client, stream: stream}
}

func (e *Enqueuer) EnqueueSubmit(ctx context.Context, jobID string) error {
	return e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]any{"type": "submit", "jobId": jobID},
	}).Err()
}

// Consumer reads submit messages from the stream through a consumer group
// and drives Service.Submit. Unacked messages from dead consumers are
// reclaimed after claimInterval, which is also what retries a submit that
// failed transiently.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	service       *Service
	log           zerolog.Logger
}

func NewConsumer(client *redis.Client, stream, group, consumer string, claimInterval time.Duration, service *Service, log zerolog.Logger) *Consumer {
	return &Consumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		claimInterval: claimInterval,
		service:       service,
		log:           log,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.read(ctx); err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("stream read error")
				time.Sleep(2 * time.Second)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.claimStalled(ctx)
		default:
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    5 * time.Second,
	}).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			if err := c.handle(ctx, msg); err != nil {
				c.log.Error().Err(err).Str("message_id", msg.ID).Msg("submit message failed")
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				c.log.Error().Err(err).Str("message_id", msg.ID).Msg("ack failed")
			}
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	jobID, _ := msg.Values["jobId"].(string)
	if jobID == "" {
		c.log.Warn().Str("message_id", msg.ID).Msg("submit message without jobId, dropping")
		return nil
	}
	return c.service.Submit(ctx, jobID)
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < c.claimInterval {
			continue
		}
		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			if err := c.handle(ctx, msg); err != nil {
				c.log.Error().Err(err).Str("message_id", msg.ID).Msg("claimed message failed")
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				c.log.Error().Err(err).Str("message_id", msg.ID).Msg("ack claimed failed")
			}
		}
	}
	return nil
}
