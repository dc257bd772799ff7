package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"retrace/internal/changelog"
)

// InMemoryStore keeps entries in insertion order. Used by unit tests and dev
// mode; the ordering contract matches the postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []changelog.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) AppendBatch(_ context.Context, entries []changelog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType, entityID string, limit int) ([]changelog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchEntity(entityType, entityID, time.Time{})
	// Most-recent-first.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].ChangedAt.Equal(matched[j].ChangedAt) {
			return matched[i].ChangedAt.After(matched[j].ChangedAt)
		}
		return matched[i].Seq > matched[j].Seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryStore) ListByEntityUntil(_ context.Context, entityType, entityID string, until time.Time) ([]changelog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.matchEntity(entityType, entityID, until)
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].ChangedAt.Equal(matched[j].ChangedAt) {
			return matched[i].ChangedAt.Before(matched[j].ChangedAt)
		}
		return matched[i].Seq < matched[j].Seq
	})
	return matched, nil
}

func (s *InMemoryStore) ListByRequest(_ context.Context, requestID string) ([]changelog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []changelog.Entry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (s *InMemoryStore) ActivitySince(_ context.Context, since time.Time) ([]changelog.ActivityBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		entityType string
		action     changelog.Action
	}
	counts := make(map[key]int64)
	for _, e := range s.entries {
		if e.ChangedAt.Before(since) {
			continue
		}
		counts[key{e.EntityType, e.Action}]++
	}

	buckets := make([]changelog.ActivityBucket, 0, len(counts))
	for k, count := range counts {
		buckets = append(buckets, changelog.ActivityBucket{
			EntityType: k.entityType,
			Action:     k.action,
			Count:      count,
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].EntityType != buckets[j].EntityType {
			return buckets[i].EntityType < buckets[j].EntityType
		}
		return buckets[i].Action < buckets[j].Action
	})
	return buckets, nil
}

// matchEntity copies matching entries; until is ignored when zero.
func (s *InMemoryStore) matchEntity(entityType, entityID string, until time.Time) []changelog.Entry {
	var matched []changelog.Entry
	for _, e := range s.entries {
		if e.EntityType != entityType || e.EntityID != entityID {
			continue
		}
		if !until.IsZero() && e.ChangedAt.After(until) {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}
