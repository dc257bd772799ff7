package writer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/changelog"
	"retrace/internal/changelog/capture"
	"retrace/internal/changelog/policy"
	"retrace/internal/changelog/store/memory"
	"retrace/internal/platform/metrics"
	"retrace/pkg/apierrors"
	"retrace/pkg/requestcontext"
)

type entity struct {
	typeName string
	entityID string
}

func (e entity) TypeName() string { return e.typeName }
func (e entity) EntityID() string { return e.entityID }

type failingStore struct{}

func (failingStore) AppendBatch(context.Context, []changelog.Entry) error {
	return errors.New("audit db down")
}
func (failingStore) ListByEntity(context.Context, string, string, int) ([]changelog.Entry, error) {
	return nil, nil
}
func (failingStore) ListByEntityUntil(context.Context, string, string, time.Time) ([]changelog.Entry, error) {
	return nil, nil
}
func (failingStore) ListByRequest(context.Context, string) ([]changelog.Entry, error) {
	return nil, nil
}
func (failingStore) ActivitySince(context.Context, time.Time) ([]changelog.ActivityBucket, error) {
	return nil, nil
}

type fakeMirror struct {
	batches [][]changelog.Entry
}

func (m *fakeMirror) Publish(_ context.Context, entries []changelog.Entry) {
	m.batches = append(m.batches, entries)
}

type fakeInvalidator struct {
	keys []string
}

func (i *fakeInvalidator) Invalidate(_ context.Context, entityType, entityID string) {
	i.keys = append(i.keys, entityType+":"+entityID)
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func capturedRecorder(t *testing.T, flush capture.Flush) *capture.Recorder {
	t.Helper()
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	rec := capture.NewRecorder(ctx, policy.New(nil), discardLogger(), metrics.NewForTest())
	rec.Capture(flush)
	return rec
}

func TestOnPostCommitStampsBatchWithOneTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	stamp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	w := New(store, discardLogger(), metrics.NewForTest(), WithClock(func() time.Time { return stamp }))

	rec := capturedRecorder(t, capture.Flush{Insertions: []capture.Insertion{
		{Entity: entity{"Customer", "1"}, Values: map[string]any{"name": "A"}},
		{Entity: entity{"Customer", "2"}, Values: map[string]any{"name": "B"}},
	}})

	require.NoError(t, w.OnPostCommit(context.Background(), rec))
	assert.Zero(t, rec.Len(), "buffer must be cleared after commit")

	entries, err := store.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].ChangedAt.Equal(stamp))
	assert.True(t, entries[1].ChangedAt.Equal(stamp))
	assert.Equal(t, 0, entries[0].Seq)
	assert.Equal(t, 1, entries[1].Seq)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestOnPostCommitEmptyBufferWritesNothing(t *testing.T) {
	store := memory.NewInMemoryStore()
	w := New(store, discardLogger(), metrics.NewForTest())

	rec := capturedRecorder(t, capture.Flush{})
	require.NoError(t, w.OnPostCommit(context.Background(), rec))

	entries, err := store.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteFailureSwallowedByDefault(t *testing.T) {
	w := New(failingStore{}, discardLogger(), metrics.NewForTest())

	rec := capturedRecorder(t, capture.Flush{Insertions: []capture.Insertion{
		{Entity: entity{"Customer", "1"}, Values: map[string]any{"name": "A"}},
	}})

	// The business operation already committed; its result is unaffected.
	assert.NoError(t, w.OnPostCommit(context.Background(), rec))
	assert.Zero(t, rec.Len(), "buffer cleared even when the write fails")
}

func TestWriteFailurePropagatedInStrictMode(t *testing.T) {
	w := New(failingStore{}, discardLogger(), metrics.NewForTest(), WithStrict())

	rec := capturedRecorder(t, capture.Flush{Insertions: []capture.Insertion{
		{Entity: entity{"Customer", "1"}, Values: map[string]any{"name": "A"}},
	}})

	err := w.OnPostCommit(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeInternal))
	assert.Zero(t, rec.Len())
}

func TestMirrorReceivesSuccessfulBatchesOnly(t *testing.T) {
	mirror := &fakeMirror{}

	w := New(memory.NewInMemoryStore(), discardLogger(), metrics.NewForTest(), WithMirror(mirror))
	rec := capturedRecorder(t, capture.Flush{Insertions: []capture.Insertion{
		{Entity: entity{"Customer", "1"}, Values: map[string]any{"name": "A"}},
	}})
	require.NoError(t, w.OnPostCommit(context.Background(), rec))
	require.Len(t, mirror.batches, 1)

	failing := New(failingStore{}, discardLogger(), metrics.NewForTest(), WithMirror(mirror))
	rec = capturedRecorder(t, capture.Flush{Insertions: []capture.Insertion{
		{Entity: entity{"Customer", "2"}, Values: map[string]any{"name": "B"}},
	}})
	require.NoError(t, failing.OnPostCommit(context.Background(), rec))
	assert.Len(t, mirror.batches, 1, "failed batches are not mirrored")
}

func TestCacheInvalidatedOncePerEntity(t *testing.T) {
	invalidator := &fakeInvalidator{}
	w := New(memory.NewInMemoryStore(), discardLogger(), metrics.NewForTest(), WithCache(invalidator))

	rec := capturedRecorder(t, capture.Flush{
		Insertions: []capture.Insertion{
			{Entity: entity{"Customer", "1"}, Values: map[string]any{"name": "A"}},
		},
		Updates: []capture.Update{
			{Entity: entity{"Customer", "1"}, Changes: map[string]capture.Change{
				"name": {Old: "A", New: "B"},
			}},
		},
	})

	require.NoError(t, w.OnPostCommit(context.Background(), rec))
	assert.Equal(t, []string{"Customer:1"}, invalidator.keys)
}
