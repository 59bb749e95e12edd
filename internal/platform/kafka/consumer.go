// Package kafka consumes raw tracking records from the event stream.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"stitchd/internal/platform/config"
)

// Handler processes one batch of raw record values. Offsets are only
// committed after the handler returns nil.
type Handler func(ctx context.Context, records [][]byte) error

// Consumer is a consumer-group member reading the tracking topic.
type Consumer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer connects to the cluster and joins the consumer group.
// Offsets are committed manually after each successfully handled batch.
func NewConsumer(cfg config.Kafka, opts ...Option) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	c := &Consumer{
		client: client,
		topic:  cfg.Topic,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// EnsureTopic creates the tracking topic if it does not exist yet.
func EnsureTopic(ctx context.Context, cfg config.Kafka, partitions int32) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, 1, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", cfg.Topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %q: %w", cfg.Topic, resp.Err)
	}
	return nil
}

// Run polls until the context is canceled, handing each fetched batch to
// the handler and committing exactly that batch's offsets on success. A
// handler error stops the loop without committing, so the batch is
// redelivered when the group next assigns its partitions.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		recs := fetches.Records()
		if len(recs) == 0 {
			continue
		}
		values := make([][]byte, len(recs))
		for i, r := range recs {
			values[i] = r.Value
		}

		if err := handle(ctx, values); err != nil {
			c.logger.ErrorContext(ctx, "batch handling failed, offsets not committed",
				"records", len(values),
				"error", err,
			)
			return fmt.Errorf("handle batch: %w", err)
		}

		if err := c.client.CommitRecords(ctx, recs...); err != nil {
			c.logger.ErrorContext(ctx, "offset commit failed", "error", err)
		}
	}
}

// Close leaves the consumer group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
