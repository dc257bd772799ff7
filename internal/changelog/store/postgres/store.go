package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"retrace/internal/changelog"
	"retrace/pkg/platform/sentinel"
	txcontext "retrace/pkg/platform/tx"
)

// Schema creates the append-only change log table. The composite index mirrors
// the read paths: per-entity ordered scans and request correlation lookups.
const Schema = `
CREATE TABLE IF NOT EXISTS changelog_entries (
	id          UUID PRIMARY KEY,
	changed_at  TIMESTAMPTZ NOT NULL,
	seq         INT NOT NULL,
	user_id     TEXT,
	request_id  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	diff        JSONB NOT NULL,
	context     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS changelog_entries_entity_idx
	ON changelog_entries (entity_type, entity_id, changed_at, seq);
CREATE INDEX IF NOT EXISTS changelog_entries_request_idx
	ON changelog_entries (request_id);
CREATE INDEX IF NOT EXISTS changelog_entries_changed_at_idx
	ON changelog_entries (changed_at);
`

// Store persists change log entries in PostgreSQL. The table is append-only;
// nothing here updates or deletes rows.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed change log store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the table and indexes if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure changelog schema: %w", err)
	}
	return nil
}

// AppendBatch writes all entries inside one dedicated transaction. Either the
// whole batch lands or none of it does; a failed batch never leaves a partial
// request behind. When the caller's context already carries a transaction
// (tests, host-managed audit tx), it is reused instead.
func (s *Store) AppendBatch(ctx context.Context, entries []changelog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	if tx, ok := txcontext.From(ctx); ok {
		return s.appendAll(ctx, tx, entries)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	if err := s.appendAll(ctx, tx, entries); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendAll(ctx context.Context, tx execer, entries []changelog.Entry) error {
	const query = `
		INSERT INTO changelog_entries (
			id, changed_at, seq, user_id, request_id,
			entity_type, entity_id, action, diff, context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, e := range entries {
		diffJSON, err := json.Marshal(e.Diff)
		if err != nil {
			return fmt.Errorf("marshal diff: %w", err)
		}
		contextJSON, err := json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}

		var userID sql.NullString
		if e.UserID != nil {
			userID = sql.NullString{String: *e.UserID, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, query,
			e.ID, e.ChangedAt, e.Seq, userID, e.RequestID,
			e.EntityType, e.EntityID, string(e.Action), diffJSON, contextJSON,
		); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return fmt.Errorf("insert changelog entry: %w", sentinel.ErrConflict)
			}
			return fmt.Errorf("insert changelog entry: %w", err)
		}
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]changelog.Entry, error) {
	query := `
		SELECT id, changed_at, seq, user_id, request_id,
			   entity_type, entity_id, action, diff, context
		FROM changelog_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY changed_at DESC, seq DESC
	`
	args := []any{entityType, entityID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entity history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) ListByEntityUntil(ctx context.Context, entityType, entityID string, until time.Time) ([]changelog.Entry, error) {
	const query = `
		SELECT id, changed_at, seq, user_id, request_id,
			   entity_type, entity_id, action, diff, context
		FROM changelog_entries
		WHERE entity_type = $1 AND entity_id = $2 AND changed_at <= $3
		ORDER BY changed_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, entityType, entityID, until)
	if err != nil {
		return nil, fmt.Errorf("query entity history until: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) ListByRequest(ctx context.Context, requestID string) ([]changelog.Entry, error) {
	const query = `
		SELECT id, changed_at, seq, user_id, request_id,
			   entity_type, entity_id, action, diff, context
		FROM changelog_entries
		WHERE request_id = $1
		ORDER BY changed_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request changes: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) ActivitySince(ctx context.Context, since time.Time) ([]changelog.ActivityBucket, error) {
	const query = `
		SELECT entity_type, action, COUNT(*)
		FROM changelog_entries
		WHERE changed_at >= $1
		GROUP BY entity_type, action
		ORDER BY entity_type, action
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query activity summary: %w", err)
	}
	defer rows.Close()

	var buckets []changelog.ActivityBucket
	for rows.Next() {
		var b changelog.ActivityBucket
		var action string
		if err := rows.Scan(&b.EntityType, &action, &b.Count); err != nil {
			return nil, fmt.Errorf("scan activity bucket: %w", err)
		}
		b.Action = changelog.Action(action)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity buckets: %w", err)
	}
	return buckets, nil
}

func scanEntries(rows *sql.Rows) ([]changelog.Entry, error) {
	var entries []changelog.Entry
	for rows.Next() {
		var (
			e           changelog.Entry
			id          uuid.UUID
			userID      sql.NullString
			action      string
			diffJSON    []byte
			contextJSON []byte
		)
		if err := rows.Scan(
			&id, &e.ChangedAt, &e.Seq, &userID, &e.RequestID,
			&e.EntityType, &e.EntityID, &action, &diffJSON, &contextJSON,
		); err != nil {
			return nil, fmt.Errorf("scan changelog entry: %w", err)
		}

		e.ID = id
		e.Action = changelog.Action(action)
		if userID.Valid {
			e.UserID = &userID.String
		}
		if err := json.Unmarshal(diffJSON, &e.Diff); err != nil {
			return nil, fmt.Errorf("unmarshal diff: %w", err)
		}
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changelog entries: %w", err)
	}
	return entries, nil
}
