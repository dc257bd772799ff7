// Package capture observes the host persistence session's scheduled mutations
// at pre-commit time and turns them into buffered change log entries. The host
// adapter hands over one Flush per business transaction; the audit engine never
// sees concrete entity types, only the changelog.Ref capability.
package capture

import "retrace/internal/changelog"

// Entity is the capability the host persistence adapter implements per
// governed entity type.
type Entity = changelog.Ref

// Change is one field's old/new value pair inside an update changeset.
type Change struct {
	Old any
	New any
}

// Insertion is a scheduled insert: the entity and its new field values.
// There is no "before" state since none existed.
type Insertion struct {
	Entity Entity
	Values map[string]any
}

// Update is a scheduled update: the entity and its changed fields only.
type Update struct {
	Entity  Entity
	Changes map[string]Change
}

// Deletion is a scheduled delete: the entity and its last known full field
// set, captured immediately before removal.
type Deletion struct {
	Entity Entity
	Values map[string]any
}

// RelationChange is a scheduled collection-valued association change: the
// owning entity, the relationship field, and the opposite-side references
// added to and removed from the collection.
type RelationChange struct {
	Owner   Entity
	Field   string
	Added   []Entity
	Removed []Entity
}

// Flush carries everything the host session scheduled for the in-flight
// business transaction, handed to the interceptor by the pre-commit hook.
type Flush struct {
	Insertions []Insertion
	Updates    []Update
	Deletions  []Deletion
	Relations  []RelationChange
}
