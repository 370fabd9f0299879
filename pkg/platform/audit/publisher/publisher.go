// Package publisher ships outbox events to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"phonegate/pkg/platform/audit"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 2 * time.Second
)

// Publisher drains the outbox into a Kafka topic. Events are keyed by tenant
// so per-tenant ordering survives partitioning.
type Publisher struct {
	client   *kgo.Client
	store    audit.Store
	topic    string
	logger   *slog.Logger
	interval time.Duration

	// produce is swappable for tests.
	produce func(ctx context.Context, records ...*kgo.Record) error
}

// New connects to the brokers and ensures the topic exists.
func New(ctx context.Context, brokers []string, topic string, store audit.Store, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 3, 1, nil, topic); err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}

	p := &Publisher{
		client:   client,
		store:    store,
		topic:    topic,
		logger:   logger,
		interval: defaultPollInterval,
	}
	p.produce = func(ctx context.Context, records ...*kgo.Record) error {
		return client.ProduceSync(ctx, records...).FirstErr()
	}
	return p, nil
}

// Run polls the outbox until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				p.logger.ErrorContext(ctx, "audit publish cycle failed", "error", err)
			}
		}
	}
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	events, err := p.store.Unpublished(ctx, defaultBatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal audit event %s: %w", event.ID, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(event.TenantID.String()),
			Value: value,
		})
	}

	if err := p.produce(ctx, records...); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}

	ids := make([]uuid.UUID, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	if err := p.store.MarkPublished(ctx, ids, time.Now()); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	p.logger.InfoContext(ctx, "audit events published", "count", len(events))
	return nil
}

// Close flushes and releases the Kafka client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
