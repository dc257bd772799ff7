// Package writer persists buffered change log entries after the business
// transaction has committed. The write runs in its own transaction against the
// audit store; by the time it fires, business data is already durable, so a
// failed audit write can never undo the business operation.
package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"retrace/internal/changelog"
	"retrace/internal/changelog/capture"
	"retrace/internal/changelog/store"
	"retrace/internal/platform/metrics"
	"retrace/pkg/apierrors"
)

// Mirror receives successfully written batches for best-effort fan-out
// (e.g. a Kafka change feed). Mirror failures never surface to the caller.
type Mirror interface {
	Publish(ctx context.Context, entries []changelog.Entry)
}

// Invalidator drops cached reconstructions for entities touched by a batch.
type Invalidator interface {
	Invalidate(ctx context.Context, entityType, entityID string)
}

// Clock is injected for testability; defaults to time.Now.
type Clock func() time.Time

// Writer is the post-commit hook. It is not idempotent: retried writes would
// duplicate rows, so delivery is at-most-once per business transaction.
type Writer struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	strict bool
	clock  Clock
	mirror Mirror
	cache  Invalidator
}

// Option configures a Writer.
type Option func(*Writer)

// WithStrict propagates audit write failures to the caller instead of
// swallowing them. A deployment-time policy choice, not a per-call one.
func WithStrict() Option {
	return func(w *Writer) { w.strict = true }
}

// WithClock sets the batch timestamp source.
func WithClock(clock Clock) Option {
	return func(w *Writer) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithMirror attaches a change feed sink.
func WithMirror(mirror Mirror) Option {
	return func(w *Writer) { w.mirror = mirror }
}

// WithCache attaches a reconstruction cache to invalidate on write.
func WithCache(cache Invalidator) Option {
	return func(w *Writer) { w.cache = cache }
}

func New(s store.Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Writer {
	w := &Writer{store: s, logger: logger, metrics: m, clock: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnPostCommit writes everything the recorder buffered. Fire only after the
// host session reports a successful business commit; on rollback, discard the
// recorder instead.
//
// Every entry in the batch is stamped with one wall-clock timestamp and a
// batch sequence number so read-back order is deterministic when timestamps
// tie. The buffer is cleared regardless of outcome.
func (w *Writer) OnPostCommit(ctx context.Context, rec *capture.Recorder) error {
	entries := rec.Drain()
	if len(entries) == 0 {
		return nil
	}

	stamp := w.clock()
	for i := range entries {
		entries[i].ChangedAt = stamp
		entries[i].Seq = i
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
	}

	if err := w.store.AppendBatch(ctx, entries); err != nil {
		if w.metrics != nil {
			w.metrics.WriteBatchFailures.Inc()
		}
		w.logger.ErrorContext(ctx, "audit write failed, batch discarded",
			"error", err,
			"request_id", entries[0].RequestID,
			"entries", len(entries),
		)
		if w.strict {
			return apierrors.Wrap(err, apierrors.CodeInternal, "audit write failed")
		}
		return nil
	}

	if w.metrics != nil {
		w.metrics.EntriesWritten.Add(float64(len(entries)))
	}
	w.invalidate(ctx, entries)
	if w.mirror != nil {
		w.mirror.Publish(ctx, entries)
	}
	return nil
}

func (w *Writer) invalidate(ctx context.Context, entries []changelog.Entry) {
	if w.cache == nil {
		return
	}
	type entity struct{ entityType, entityID string }
	seen := make(map[entity]struct{}, len(entries))
	for _, e := range entries {
		key := entity{e.EntityType, e.EntityID}
		if _, done := seen[key]; done {
			continue
		}
		seen[key] = struct{}{}
		w.cache.Invalidate(ctx, e.EntityType, e.EntityID)
	}
}
