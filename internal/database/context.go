package database

import (
	"context"
	"database/sql"
)

type txKey struct{}

func newTxContext(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// InTx reports whether ctx carries a transaction, Postgres or in-memory.
func InTx(ctx context.Context) bool {
	if _, ok := txFromContext(ctx); ok {
		return true
	}
	_, ok := memTxFromContext(ctx)
	return ok
}
