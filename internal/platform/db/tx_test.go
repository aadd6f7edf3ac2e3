package db_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/pustakalab/pustaka/internal/platform/db"
	"github.com/pustakalab/pustaka/internal/platform/httpx"
)

func TestTranslateConcurrencyErr(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}

	err := db.TranslateConcurrencyErr(serialization)
	require.ErrorIs(t, err, httpx.ErrConflict)

	err = db.TranslateConcurrencyErr(deadlock)
	require.ErrorIs(t, err, httpx.ErrConflict)

	// Wrapped aborts are still recognized.
	err = db.TranslateConcurrencyErr(fmt.Errorf("commit tx: %w", serialization))
	require.ErrorIs(t, err, httpx.ErrConflict)

	// Everything else passes through untouched.
	require.Equal(t, error(unique), db.TranslateConcurrencyErr(unique))
	other := errors.New("connection reset")
	require.Equal(t, other, db.TranslateConcurrencyErr(other))
	require.NoError(t, db.TranslateConcurrencyErr(nil))
}
