//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"retrace/internal/changelog"
	"retrace/pkg/testutil/containers"
)

const testTopic = "retrace.changes"

func TestKafkaPublishRoundTrip(t *testing.T) {
	kc := containers.NewKafkaContainer(t)
	log := slog.New(slog.DiscardHandler)

	pub, err := NewKafka([]string{kc.Broker}, testTopic, log)
	require.NoError(t, err)

	userID := "user-1"
	entries := []changelog.Entry{
		{
			ID:         uuid.New(),
			ChangedAt:  time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
			Seq:        0,
			UserID:     &userID,
			RequestID:  "req-1",
			EntityType: "Customer",
			EntityID:   "42",
			Action:     changelog.ActionUpdate,
			Diff:       map[string]any{"name": []any{"A", "B"}},
		},
		{
			ID:         uuid.New(),
			ChangedAt:  time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
			Seq:        1,
			RequestID:  "req-1",
			EntityType: "Order",
			EntityID:   "9",
			Action:     changelog.ActionDelete,
			Diff:       map[string]any{"total": 10},
		},
	}

	ctx := context.Background()
	pub.Publish(ctx, entries)
	pub.Close()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kc.Broker),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var records []*kgo.Record
	for len(records) < len(entries) {
		fetches := consumer.PollFetches(pollCtx)
		require.NoError(t, fetches.Err())
		records = append(records, fetches.Records()...)
	}
	require.Len(t, records, 2)

	byKey := make(map[string]changelog.Entry, len(records))
	for _, r := range records {
		var e changelog.Entry
		require.NoError(t, json.Unmarshal(r.Value, &e))
		byKey[string(r.Key)] = e
	}

	customer, ok := byKey["Customer:42"]
	require.True(t, ok, "records are keyed by entity")
	assert.Equal(t, changelog.ActionUpdate, customer.Action)
	require.NotNil(t, customer.UserID)
	assert.Equal(t, "user-1", *customer.UserID)
	oldVal, newVal, ok := changelog.UpdatePair(customer.Diff["name"])
	require.True(t, ok)
	assert.Equal(t, "A", oldVal)
	assert.Equal(t, "B", newVal)

	order, ok := byKey["Order:9"]
	require.True(t, ok)
	assert.Equal(t, changelog.ActionDelete, order.Action)
	assert.Nil(t, order.UserID)
}
