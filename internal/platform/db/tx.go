package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pustakalab/pustaka/internal/platform/httpx"
)

// WithTx executes fn inside a ReadCommitted transaction. The transaction is
// rolled back when fn returns an error, so a failed precondition check inside
// fn can never leave a partial write behind.
//
// ReadCommitted is deliberate: the read-check-write flows lock rows with
// FOR UPDATE, and a transaction that blocked on a concurrent writer must see
// that writer's committed row once the lock is released. Under snapshot
// isolation the blocked reader would abort with a serialization failure
// instead of re-reading, and the in-transaction state guards would never get
// the chance to fire.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return TranslateConcurrencyErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TranslateConcurrencyErr(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// TranslateConcurrencyErr maps Postgres serialization and deadlock aborts
// (SQLSTATE 40001 and 40P01) onto the conflict taxonomy. Losing a row race
// is a retryable state conflict for the caller, not an internal failure.
func TranslateConcurrencyErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: concurrent update, retry the operation", httpx.ErrConflict)
	}
	return err
}
