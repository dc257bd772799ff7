// Package store defines the append-only persistence contract for change log
// entries. Implementations must read entries back in a stable order: by
// changed_at, ties broken by batch insertion order (seq).
package store

import (
	"context"
	"time"

	"retrace/internal/changelog"
)

// Store is the audit store. AppendBatch runs inside its own dedicated
// transaction, separate from the business transaction that produced the
// entries.
type Store interface {
	AppendBatch(ctx context.Context, entries []changelog.Entry) error

	// ListByEntity returns the entity's entries most-recent-first.
	// limit <= 0 means no limit.
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]changelog.Entry, error)

	// ListByEntityUntil returns the entity's entries with changed_at <= until,
	// in ascending order, for reconstruction folds.
	ListByEntityUntil(ctx context.Context, entityType, entityID string, until time.Time) ([]changelog.Entry, error)

	// ListByRequest returns every entry sharing one correlation token.
	ListByRequest(ctx context.Context, requestID string) ([]changelog.Entry, error)

	// ActivitySince aggregates entry counts by entity type and action since
	// the given instant.
	ActivitySince(ctx context.Context, since time.Time) ([]changelog.ActivityBucket, error)
}
