// Package query is the read side of the audit subsystem: entity and field
// history, request-correlated change sets, activity summaries, and
// point-in-time state reconstruction over the ordered change log.
package query

import (
	"context"
	"log/slog"
	"time"

	"retrace/internal/changelog"
	"retrace/internal/changelog/store"
	"retrace/internal/platform/metrics"
	"retrace/pkg/apierrors"
	"retrace/pkg/platform/sentinel"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// Service answers audit queries. It operates purely against the audit store
// and never touches business data.
type Service struct {
	store   store.Store
	cache   *Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithCache attaches a reconstruction cache.
func WithCache(cache *Cache) Option {
	return func(s *Service) { s.cache = cache }
}

func NewService(st store.Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{store: st, logger: logger, metrics: m}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntityHistory returns the entity's entries, most-recent-first.
func (s *Service) EntityHistory(ctx context.Context, entityType, entityID string, limit int) ([]changelog.Entry, error) {
	if err := validateEntityKey(entityType, entityID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListByEntity(ctx, entityType, entityID, clampLimit(limit))
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.CodeInternal, "entity history lookup failed")
	}
	return entries, nil
}

// FieldHistory returns the subset of the entity's history whose diff touches
// the given field.
func (s *Service) FieldHistory(ctx context.Context, entityType, entityID, field string, limit int) ([]changelog.Entry, error) {
	if err := validateEntityKey(entityType, entityID); err != nil {
		return nil, err
	}
	if field == "" {
		return nil, apierrors.New(apierrors.CodeBadRequest, "field must not be empty")
	}

	// Filter happens here, so fetch without a store-side limit.
	entries, err := s.store.ListByEntity(ctx, entityType, entityID, 0)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.CodeInternal, "field history lookup failed")
	}

	limit = clampLimit(limit)
	var matched []changelog.Entry
	for _, e := range entries {
		if !e.TouchesField(field) {
			continue
		}
		matched = append(matched, e)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

// RequestChanges returns every entry sharing one correlation token, for
// bulk-operation introspection. The set is all-or-nothing by construction:
// batches land atomically or not at all.
func (s *Service) RequestChanges(ctx context.Context, requestID string) ([]changelog.Entry, error) {
	if requestID == "" {
		return nil, apierrors.New(apierrors.CodeBadRequest, "request id must not be empty")
	}
	entries, err := s.store.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.CodeInternal, "request changes lookup failed")
	}
	return entries, nil
}

// ActivitySummary aggregates entry counts by entity type and action since the
// given instant.
func (s *Service) ActivitySummary(ctx context.Context, since time.Time) ([]changelog.ActivityBucket, error) {
	buckets, err := s.store.ActivitySince(ctx, since)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.CodeInternal, "activity summary failed")
	}
	return buckets, nil
}

// ReconstructStateAt folds the entity's ordered diffs into its field state as
// of the given instant. Returns not-found when the entity had no entries yet,
// or when the last entry at or before the instant is a delete (the entity no
// longer existed).
func (s *Service) ReconstructStateAt(ctx context.Context, entityType, entityID string, at time.Time) (map[string]any, error) {
	if err := validateEntityKey(entityType, entityID); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Reconstructions.Inc()
	}

	if s.cache != nil {
		if state, ok := s.cache.GetState(ctx, entityType, entityID, at); ok {
			if s.metrics != nil {
				s.metrics.ReconstructionHits.Inc()
			}
			return state, nil
		}
	}

	entries, err := s.store.ListByEntityUntil(ctx, entityType, entityID, at)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.CodeInternal, "reconstruction lookup failed")
	}
	if len(entries) == 0 {
		return nil, apierrors.Wrap(sentinel.ErrNotFound, apierrors.CodeNotFound, "entity has no recorded state at this instant")
	}
	if entries[len(entries)-1].Action == changelog.ActionDelete {
		return nil, apierrors.Wrap(sentinel.ErrNotFound, apierrors.CodeNotFound, "entity was deleted before this instant")
	}

	state := foldState(entries)
	if s.cache != nil {
		s.cache.PutState(ctx, entityType, entityID, at, state)
	}
	return state, nil
}

func validateEntityKey(entityType, entityID string) error {
	if entityType == "" || entityID == "" {
		return apierrors.New(apierrors.CodeBadRequest, "entity type and id must not be empty")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
