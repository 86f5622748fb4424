package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

// ContextWithTx stores tx so repositories pick it up via TxFromContext.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext returns the transaction stored in ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// KeyedTx runs fn inside a transaction holding a transaction-scoped advisory
// lock on key. Callers sharing a key are serialized across processes.
type KeyedTx struct {
	pool *pgxpool.Pool
}

func NewKeyedTx(pool *pgxpool.Pool) *KeyedTx {
	return &KeyedTx{pool: pool}
}

func (k *KeyedTx) Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	tx, err := k.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
