// Package publisher mirrors committed change log batches to a Kafka topic.
// The mirror is best-effort: the changelog table is the source of truth, and
// produce failures are logged, never surfaced to the write path.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"retrace/internal/changelog"
)

// Kafka publishes entries to a change feed topic, keyed by entity so
// per-entity ordering is preserved within a partition.
type Kafka struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewKafka connects to the brokers and produces to the given topic.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, logger: logger}, nil
}

// Publish produces one record per entry asynchronously.
func (k *Kafka) Publish(ctx context.Context, entries []changelog.Entry) {
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			k.logger.WarnContext(ctx, "change feed marshal failed", "error", err, "entry_id", e.ID)
			continue
		}
		record := &kgo.Record{
			Key:   []byte(e.EntityType + ":" + e.EntityID),
			Value: value,
		}
		k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				k.logger.Warn("change feed produce failed", "error", err)
			}
		})
	}
}

// Close flushes in-flight records and releases the client.
func (k *Kafka) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = k.client.Flush(ctx)
	k.client.Close()
}
