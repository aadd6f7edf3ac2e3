package loan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pustakalab/pustaka/internal/platform/db"
	"github.com/pustakalab/pustaka/internal/shared"
)

// TxRepository exposes the transactional operations the lifecycle needs.
// Every reader re-fetches authoritative state under lock so a stale value
// read earlier in the request can never drive a mutation.
type TxRepository interface {
	GetBookForUpdate(ctx context.Context, bookID int64) (BookStock, error)
	SetBookAvailable(ctx context.Context, bookID int64, available int) error
	HasActiveLoan(ctx context.Context, borrowerID, bookID int64) (bool, error)
	InsertLoan(ctx context.Context, l Loan) (int64, error)
	GetLoanForUpdate(ctx context.Context, loanID int64) (Loan, error)
	UpdateLoan(ctx context.Context, l Loan) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLoan(ctx context.Context, id int64) (Loan, error)
	List(ctx context.Context, filter Filter) ([]Loan, int, error)
}

// Repository persists loans in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a ReadCommitted transaction. ReadCommitted is
// required for the FOR UPDATE re-reads: a transaction that blocked on a
// concurrent writer must observe the winner's committed row once the lock
// releases, so the state guards can fire instead of a serialization abort.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return db.TranslateConcurrencyErr(err)
	}
	return db.TranslateConcurrencyErr(tx.Commit(ctx))
}

const loanColumns = `id, borrower_id, book_id, status, requested_at, due_date, borrowed_at, returned_at, fine, note`

// GetLoan fetches a loan outside a transaction.
func (r *Repository) GetLoan(ctx context.Context, id int64) (Loan, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	return scanLoan(row)
}

// List returns a filtered page of loans plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Loan, int, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.BorrowerID != 0 {
		conds = append(conds, "borrower_id = "+arg(filter.BorrowerID))
	}
	if filter.BookID != 0 {
		conds = append(conds, "book_id = "+arg(filter.BookID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loans`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	rows, err := r.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans`+where+
		` ORDER BY requested_at DESC LIMIT `+arg(page.PerPage)+` OFFSET `+arg(page.Offset()), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var loans []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, 0, err
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

func (t *txRepo) GetBookForUpdate(ctx context.Context, bookID int64) (BookStock, error) {
	var s BookStock
	err := t.tx.QueryRow(ctx, `SELECT id, approved, available_copies, total_copies
FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&s.ID, &s.Approved, &s.AvailableCopies, &s.TotalCopies)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookStock{}, shared.ErrNotFound
		}
		return BookStock{}, err
	}
	return s, nil
}

func (t *txRepo) SetBookAvailable(ctx context.Context, bookID int64, available int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE books SET available_copies = $2, updated_at = NOW() WHERE id = $1`, bookID, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) HasActiveLoan(ctx context.Context, borrowerID, bookID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loans
WHERE borrower_id = $1 AND book_id = $2 AND status IN ('pending', 'dipinjam'))`, borrowerID, bookID).Scan(&exists)
	return exists, err
}

// InsertLoan inserts a pending loan. The partial unique index
// loans_one_active_per_pair backs up the HasActiveLoan pre-check, so a racing
// insert surfaces as ErrDuplicateActiveLoan instead of a second active loan.
func (t *txRepo) InsertLoan(ctx context.Context, l Loan) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO loans (borrower_id, book_id, status, requested_at, due_date, fine, note)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		l.BorrowerID, l.BookID, string(l.Status), l.RequestedAt, l.DueDate, l.Fine, l.Note).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateActiveLoan
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) GetLoanForUpdate(ctx context.Context, loanID int64) (Loan, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID)
	return scanLoan(row)
}

func (t *txRepo) UpdateLoan(ctx context.Context, l Loan) error {
	tag, err := t.tx.Exec(ctx, `UPDATE loans SET status = $2, due_date = $3, borrowed_at = $4,
returned_at = $5, fine = $6, note = $7 WHERE id = $1`,
		l.ID, string(l.Status), l.DueDate, l.BorrowedAt, l.ReturnedAt, l.Fine, l.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	var status string
	err := row.Scan(&l.ID, &l.BorrowerID, &l.BookID, &status, &l.RequestedAt, &l.DueDate,
		&l.BorrowedAt, &l.ReturnedAt, &l.Fine, &l.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, shared.ErrNotFound
		}
		return Loan{}, err
	}
	l.Status = Status(status)
	return l, nil
}

var _ RepositoryPort = (*Repository)(nil)
