package query

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/changelog"
	"retrace/internal/changelog/store/memory"
	"retrace/internal/platform/metrics"
	"retrace/pkg/apierrors"
	"retrace/pkg/platform/sentinel"
)

func newTestService(store *memory.InMemoryStore) *Service {
	return NewService(store, slog.New(slog.DiscardHandler), metrics.NewForTest())
}

func seed(t *testing.T, store *memory.InMemoryStore, entries ...changelog.Entry) {
	t.Helper()
	for i := range entries {
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
	}
	require.NoError(t, store.AppendBatch(context.Background(), entries))
}

func entryAt(at time.Time, entityType, entityID string, action changelog.Action, diff map[string]any) changelog.Entry {
	return changelog.Entry{
		ChangedAt:  at,
		RequestID:  "req-" + at.Format("150405"),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Diff:       diff,
	}
}

func TestReconstructStateAtFoldsInsertAndUpdates(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A", "email": "a@x.com"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionUpdate,
			map[string]any{"name": []any{"A", "B"}}),
	)
	svc := newTestService(store)

	state, err := svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "B", "email": "a@x.com"}, state)
}

func TestReconstructStateAtUpdateTimestampIncludesThatUpdate(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionUpdate,
			map[string]any{"name": []any{"A", "B"}}),
	)
	svc := newTestService(store)

	state, err := svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "B", state["name"])
}

func TestReconstructStateBeforeFirstEntryIsNotFound(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store, entryAt(base, "Customer", "1", changelog.ActionInsert,
		map[string]any{"name": "A"}))
	svc := newTestService(store)

	_, err := svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(-time.Minute))
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestReconstructStateAfterDeleteIsNotFound(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionDelete,
			map[string]any{"name": "A"}),
	)
	svc := newTestService(store)

	_, err := svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound))
}

func TestReconstructStateAtDeleteBoundary(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionDelete,
			map[string]any{"name": "A"}),
	)
	svc := newTestService(store)

	// Strictly before the delete the entity still existed.
	state, err := svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(time.Hour-time.Second))
	require.NoError(t, err)
	assert.Equal(t, "A", state["name"])

	// At the delete's own timestamp it is gone.
	_, err = svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.CodeNotFound))
}

func TestReconstructStateAfterDeleteAndReinsertSeesNewIncarnation(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A", "email": "a@x.com"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionDelete,
			map[string]any{"name": "A", "email": "a@x.com"}),
		entryAt(base.Add(2*time.Hour), "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "Z"}),
	)
	svc := newTestService(store)

	state, err := svc.ReconstructStateAt(context.Background(), "Customer", "1", base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Z"}, state, "pre-delete fields must not leak")
}

func TestReconstructStateFoldsRelationshipSets(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Recipe", "7", changelog.ActionInsert,
			map[string]any{"title": "Soup"}),
		entryAt(base.Add(time.Hour), "Recipe", "7", changelog.ActionUpdate,
			map[string]any{"ingredients": map[string]any{
				"added":   []any{"Item:1", "Item:2"},
				"removed": []any{},
			}}),
		entryAt(base.Add(2*time.Hour), "Recipe", "7", changelog.ActionUpdate,
			map[string]any{"ingredients": map[string]any{
				"added":   []any{"Item:3"},
				"removed": []any{"Item:1"},
			}}),
	)
	svc := newTestService(store)

	state, err := svc.ReconstructStateAt(context.Background(), "Recipe", "7", base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "Soup", state["title"])
	assert.Equal(t, []string{"Item:2", "Item:3"}, state["ingredients"])
}

func TestReconstructStateRejectsEmptyKey(t *testing.T) {
	svc := newTestService(memory.NewInMemoryStore())

	_, err := svc.ReconstructStateAt(context.Background(), "", "1", time.Now())
	assert.True(t, apierrors.Is(err, apierrors.CodeBadRequest))

	_, err = svc.ReconstructStateAt(context.Background(), "Customer", "", time.Now())
	assert.True(t, apierrors.Is(err, apierrors.CodeBadRequest))
}

func TestEntityHistoryClampsLimit(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	var entries []changelog.Entry
	for i := 0; i < maxHistoryLimit+50; i++ {
		entries = append(entries, entryAt(base.Add(time.Duration(i)*time.Second),
			"Customer", "1", changelog.ActionUpdate,
			map[string]any{"name": []any{"a", "b"}}))
	}
	seed(t, store, entries...)
	svc := newTestService(store)

	got, err := svc.EntityHistory(context.Background(), "Customer", "1", 0)
	require.NoError(t, err)
	assert.Len(t, got, defaultHistoryLimit)

	got, err = svc.EntityHistory(context.Background(), "Customer", "1", maxHistoryLimit+1000)
	require.NoError(t, err)
	assert.Len(t, got, maxHistoryLimit)
}

func TestFieldHistoryFiltersToTouchedField(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	seed(t, store,
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A", "email": "a@x.com"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionUpdate,
			map[string]any{"email": []any{"a@x.com", "b@x.com"}}),
		entryAt(base.Add(2*time.Hour), "Customer", "1", changelog.ActionUpdate,
			map[string]any{"name": []any{"A", "B"}}),
	)
	svc := newTestService(store)

	got, err := svc.FieldHistory(context.Background(), "Customer", "1", "email", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most-recent-first, same as entity history.
	assert.Equal(t, changelog.ActionUpdate, got[0].Action)
	assert.Equal(t, changelog.ActionInsert, got[1].Action)
}

func TestFieldHistoryRequiresField(t *testing.T) {
	svc := newTestService(memory.NewInMemoryStore())

	_, err := svc.FieldHistory(context.Background(), "Customer", "1", "", 0)
	assert.True(t, apierrors.Is(err, apierrors.CodeBadRequest))
}

func TestRequestChangesRequiresID(t *testing.T) {
	svc := newTestService(memory.NewInMemoryStore())

	_, err := svc.RequestChanges(context.Background(), "")
	assert.True(t, apierrors.Is(err, apierrors.CodeBadRequest))
}

func TestRequestChangesReturnsBatch(t *testing.T) {
	store := memory.NewInMemoryStore()
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	e1 := entryAt(base, "Customer", "1", changelog.ActionUpdate, map[string]any{"name": []any{"a", "b"}})
	e1.RequestID = "bulk-1"
	e2 := entryAt(base, "Customer", "2", changelog.ActionUpdate, map[string]any{"name": []any{"a", "b"}})
	e2.RequestID = "bulk-1"
	seed(t, store, e1, e2)
	svc := newTestService(store)

	got, err := svc.RequestChanges(context.Background(), "bulk-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFoldStateIgnoresMalformedUpdateValues(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	entries := []changelog.Entry{
		entryAt(base, "Customer", "1", changelog.ActionInsert,
			map[string]any{"name": "A"}),
		entryAt(base.Add(time.Hour), "Customer", "1", changelog.ActionUpdate,
			map[string]any{"name": "not-a-pair"}),
	}

	state := foldState(entries)
	assert.Equal(t, "A", state["name"], "malformed update values leave the field untouched")
}
