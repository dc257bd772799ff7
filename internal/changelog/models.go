// Package changelog defines the persisted change audit model. Entries are
// append-only and immutable: they are created by the deferred writer right
// after a successful business commit and never mutated or deleted here.
package changelog

import (
	"time"

	"github.com/google/uuid"
)

// Action classifies a captured mutation.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Ref is the narrow capability the audit engine needs from any governed
// entity. The host persistence layer implements it per real entity type; the
// audit engine is generic over this capability, never over concrete types.
type Ref interface {
	TypeName() string
	EntityID() string
}

// RefToken formats the opaque "Type:ID" token stored inside diffs for entity
// references. It is a weak, non-owning back-reference used for display and
// lookup only - never for re-hydration.
func RefToken(r Ref) string {
	return r.TypeName() + ":" + r.EntityID()
}

// RequestContext is free-form metadata captured from the originating request,
// or {source: "background"} when there is no request.
type RequestContext struct {
	Route  string `json:"route,omitempty"`
	Method string `json:"method,omitempty"`
	Origin string `json:"origin,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Client string `json:"client,omitempty"`
	Source string `json:"source,omitempty"`
}

// BackgroundContext marks entries produced outside any HTTP request.
func BackgroundContext() RequestContext {
	return RequestContext{Source: "background"}
}

// Entry is one persisted change log record.
//
// Diff shapes by action (storage-format compatibility surface):
//   - insert: field -> new value
//   - update: field -> [old, new] pair
//   - delete: field -> final value
//   - relationship field (always under action update): field -> {added, removed}
//     lists of opaque "Type:ID" tokens
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	ChangedAt  time.Time      `json:"changed_at"`
	Seq        int            `json:"seq"`
	UserID     *string        `json:"user_id,omitempty"`
	RequestID  string         `json:"request_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     Action         `json:"action"`
	Diff       map[string]any `json:"diff"`
	Context    RequestContext `json:"context"`
}

// TouchesField reports whether the entry's diff includes the field.
func (e Entry) TouchesField(field string) bool {
	_, ok := e.Diff[field]
	return ok
}

// UpdatePair unpacks an update diff value into its old/new halves. It accepts
// both the in-memory form ([]any{old, new}) and the JSON-decoded form.
func UpdatePair(v any) (oldVal, newVal any, ok bool) {
	pair, isSlice := v.([]any)
	if !isSlice || len(pair) != 2 {
		return nil, nil, false
	}
	return pair[0], pair[1], true
}

// RefSets unpacks a relationship diff value into its added/removed token
// lists. It accepts both the in-memory form (map with []string values) and the
// JSON-decoded form (map with []any values).
func RefSets(v any) (added, removed []string, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return nil, nil, false
	}
	addedRaw, hasAdded := m["added"]
	removedRaw, hasRemoved := m["removed"]
	if !hasAdded || !hasRemoved {
		return nil, nil, false
	}
	return tokenList(addedRaw), tokenList(removedRaw), true
}

func tokenList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		tokens := make([]string, 0, len(list))
		for _, item := range list {
			if s, isStr := item.(string); isStr {
				tokens = append(tokens, s)
			}
		}
		return tokens
	default:
		return nil
	}
}

// ActivityBucket is one row of an activity summary: how many entries of one
// action were written for one entity type since a given instant.
type ActivityBucket struct {
	EntityType string `json:"entity_type"`
	Action     Action `json:"action"`
	Count      int64  `json:"count"`
}
