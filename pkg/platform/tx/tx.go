// Package tx carries a caller-owned *sql.Tx through context so the audit store
// can join a host-managed transaction instead of opening a dedicated one.
package tx

import (
	"context"
	"database/sql"
)

type txKey struct{}

// WithTx makes tx the transaction the audit store writes through for this
// context. The caller keeps commit and rollback responsibility; buffered
// entries become visible only when the caller's transaction commits.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, tx)
}

// From returns the transaction carried by ctx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
