package capture

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"retrace/internal/changelog"
	"retrace/internal/changelog/policy"
	"retrace/internal/changelog/serialize"
	"retrace/internal/platform/metrics"
	"retrace/pkg/requestcontext"
)

// Recorder accumulates change log entries for one business transaction. It is
// created by the pre-commit hook, owned exclusively by that transaction's
// capture/write cycle, and discarded at transaction end. Never share a
// Recorder across transactions.
type Recorder struct {
	pol     *policy.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics

	userID     *string
	requestID  string
	reqContext changelog.RequestContext

	entries []changelog.Entry
}

// NewRecorder resolves the transaction's actor, correlation token, and request
// context once, from the context populated by middleware. Outside an HTTP
// request it synthesizes a "bg-" prefixed token and a background context.
func NewRecorder(ctx context.Context, pol *policy.Policy, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	r := &Recorder{pol: pol, logger: logger, metrics: m}

	if userID := requestcontext.UserID(ctx); userID != "" {
		r.userID = &userID
	}

	r.requestID = requestcontext.RequestID(ctx)
	if r.requestID == "" {
		r.requestID = "bg-" + uuid.NewString()
		r.reqContext = changelog.BackgroundContext()
		return r
	}

	r.reqContext = changelog.RequestContext{
		Route:  requestcontext.Route(ctx),
		Method: requestcontext.Method(ctx),
		Origin: requestcontext.ClientIP(ctx),
		Agent:  requestcontext.UserAgent(ctx),
	}
	if r.reqContext.Agent != "" {
		ua := useragent.New(r.reqContext.Agent)
		name, version := ua.Browser()
		if name != "" {
			client := name
			if version != "" {
				client += " " + version
			}
			if os := ua.OS(); os != "" {
				client += " on " + os
			}
			r.reqContext.Client = client
		}
	}
	return r
}

// RequestID returns the correlation token shared by every entry this recorder
// produces.
func (r *Recorder) RequestID() string { return r.requestID }

// Capture builds diff records for everything the host session scheduled.
// A failure extracting one entity's changeset skips that record only; the rest
// of the batch proceeds. Audit availability wins over completeness.
func (r *Recorder) Capture(flush Flush) {
	for _, ins := range flush.Insertions {
		r.guard("insert", func() { r.captureInsertion(ins) })
	}
	for _, upd := range flush.Updates {
		r.guard("update", func() { r.captureUpdate(upd) })
	}
	for _, del := range flush.Deletions {
		r.guard("delete", func() { r.captureDeletion(del) })
	}
	for _, rel := range flush.Relations {
		r.guard("relation", func() { r.captureRelation(rel) })
	}
}

// guard isolates per-entity extraction failures. Host adapters back the Entity
// capability with arbitrary application types, so a panic there must not lose
// the rest of the batch.
func (r *Recorder) guard(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			if r.metrics != nil {
				r.metrics.CaptureSkips.Inc()
			}
			r.logger.Warn("capture failed for one entity, skipping record",
				"kind", kind,
				"panic", p,
				"request_id", r.requestID,
			)
		}
	}()
	fn()
}

func (r *Recorder) captureInsertion(ins Insertion) {
	entityType := ins.Entity.TypeName()
	if !r.pol.ShouldAuditEntity(entityType) {
		return
	}

	diff := make(map[string]any)
	for field, v := range ins.Values {
		if !r.pol.ShouldAuditField(entityType, field) {
			continue
		}
		diff[field] = serialize.Value(v)
	}
	r.append(entityType, ins.Entity.EntityID(), changelog.ActionInsert, diff)
}

func (r *Recorder) captureUpdate(upd Update) {
	entityType := upd.Entity.TypeName()
	if !r.pol.ShouldAuditEntity(entityType) {
		return
	}

	diff := make(map[string]any)
	for field, change := range upd.Changes {
		if !r.pol.ShouldAuditField(entityType, field) {
			continue
		}
		oldVal := serialize.Value(change.Old)
		newVal := serialize.Value(change.New)
		if reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		diff[field] = []any{oldVal, newVal}
	}
	r.append(entityType, upd.Entity.EntityID(), changelog.ActionUpdate, diff)
}

func (r *Recorder) captureDeletion(del Deletion) {
	entityType := del.Entity.TypeName()
	if !r.pol.ShouldAuditEntity(entityType) {
		return
	}

	diff := make(map[string]any)
	for field, v := range del.Values {
		if !r.pol.ShouldAuditField(entityType, field) {
			continue
		}
		diff[field] = serialize.Value(v)
	}
	r.append(entityType, del.Entity.EntityID(), changelog.ActionDelete, diff)
}

// captureRelation records collection membership changes. Relationship entries
// always carry action update.
func (r *Recorder) captureRelation(rel RelationChange) {
	entityType := rel.Owner.TypeName()
	if !r.pol.ShouldAuditEntity(entityType) || !r.pol.ShouldAuditField(entityType, rel.Field) {
		return
	}
	if len(rel.Added) == 0 && len(rel.Removed) == 0 {
		return
	}

	added := make([]string, 0, len(rel.Added))
	for _, ref := range rel.Added {
		added = append(added, changelog.RefToken(ref))
	}
	removed := make([]string, 0, len(rel.Removed))
	for _, ref := range rel.Removed {
		removed = append(removed, changelog.RefToken(ref))
	}

	diff := map[string]any{
		rel.Field: map[string]any{"added": added, "removed": removed},
	}
	r.append(entityType, rel.Owner.EntityID(), changelog.ActionUpdate, diff)
}

// append buffers one record. Empty diffs are dropped: no-op changesets produce
// no entry.
func (r *Recorder) append(entityType, entityID string, action changelog.Action, diff map[string]any) {
	if len(diff) == 0 {
		return
	}
	r.entries = append(r.entries, changelog.Entry{
		ID:         uuid.New(),
		UserID:     r.userID,
		RequestID:  r.requestID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Diff:       diff,
		Context:    r.reqContext,
	})
}

// Len reports how many records are buffered.
func (r *Recorder) Len() int { return len(r.entries) }

// Drain hands the buffered records to the writer and empties the recorder.
func (r *Recorder) Drain() []changelog.Entry {
	entries := r.entries
	r.entries = nil
	return entries
}

// Discard drops the buffer. Called when the business transaction aborts.
func (r *Recorder) Discard() { r.entries = nil }
