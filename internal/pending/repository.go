package pending

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pustakalab/pustaka/internal/platform/db"
	"github.com/pustakalab/pustaka/internal/shared"
)

// TxRepository exposes the transactional operations of the approval flow.
// Materializing a catalog entry and flipping the pending status happen on
// the same handle, so a partial promotion is structurally impossible.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Entry, error)
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	UpdateEntry(ctx context.Context, e Entry) error
	MaterializeBook(ctx context.Context, e Entry) (int64, error)
	CopyTagLinks(ctx context.Context, pendingID, bookID int64) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, int, error)
}

// Repository persists pending entries in PostgreSQL.
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
// required for the FOR UPDATE re-read in Decide: a transaction that blocked
// on a concurrent decision must observe the committed status flip once the
// lock releases, so ErrAlreadyProcessed fires instead of a serialization
// abort.
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

const entryColumns = `id, title, author, publisher, year, isbn, pages, description, cover_url,
genre_id, available_copies, total_copies, status, submitter_id, approver_id, admin_note,
created_book_id, created_at, decided_at`

// Get fetches a pending entry with its tag links.
func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM pending_books WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}
	tagIDs, err := r.tagIDs(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	e.TagIDs = tagIDs
	return e, nil
}

// List returns a filtered page of pending entries plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, int, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if filter.SubmitterID != 0 {
		conds = append(conds, "submitter_id = "+arg(filter.SubmitterID))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_books`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM pending_books`+where+
		` ORDER BY created_at DESC LIMIT `+arg(page.PerPage)+` OFFSET `+arg(page.Offset()), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *Repository) tagIDs(ctx context.Context, pendingID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT tag_id FROM pending_book_tags WHERE pending_book_id = $1 ORDER BY tag_id`, pendingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Entry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM pending_books WHERE id = $1 FOR UPDATE`, id)
	return scanEntry(row)
}

func (t *txRepo) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO pending_books
(title, author, publisher, year, isbn, pages, description, cover_url, genre_id,
 available_copies, total_copies, status, submitter_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		e.Title, e.Author, e.Publisher, e.Year, e.ISBN, e.Pages, e.Description, e.CoverURL,
		nullableID(e.GenreID), e.AvailableCopies, e.TotalCopies, string(e.Status), e.SubmitterID).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, tagID := range e.TagIDs {
		if _, err := t.tx.Exec(ctx, `INSERT INTO pending_book_tags (pending_book_id, tag_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, tagID); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (t *txRepo) UpdateEntry(ctx context.Context, e Entry) error {
	tag, err := t.tx.Exec(ctx, `UPDATE pending_books SET status = $2, approver_id = $3,
admin_note = $4, created_book_id = $5, decided_at = $6 WHERE id = $1`,
		e.ID, string(e.Status), e.ApproverID, e.AdminNote, e.CreatedBookID, e.DecidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MaterializeBook copies the bibliographic fields and copy counts into a new
// approved catalog entry.
func (t *txRepo) MaterializeBook(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO books
(title, author, publisher, year, isbn, pages, description, cover_url, genre_id,
 available_copies, total_copies, approved)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE) RETURNING id`,
		e.Title, e.Author, e.Publisher, e.Year, e.ISBN, e.Pages, e.Description, e.CoverURL,
		nullableID(e.GenreID), e.AvailableCopies, e.TotalCopies).Scan(&id)
	return id, err
}

// CopyTagLinks forwards the pending entry's tags to the materialized book.
func (t *txRepo) CopyTagLinks(ctx context.Context, pendingID, bookID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO book_tags (book_id, tag_id)
SELECT $1, tag_id FROM pending_book_tags WHERE pending_book_id = $2
ON CONFLICT DO NOTHING`, bookID, pendingID)
	return err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var status string
	var genreID *int64
	err := row.Scan(&e.ID, &e.Title, &e.Author, &e.Publisher, &e.Year, &e.ISBN, &e.Pages,
		&e.Description, &e.CoverURL, &genreID, &e.AvailableCopies, &e.TotalCopies,
		&status, &e.SubmitterID, &e.ApproverID, &e.AdminNote, &e.CreatedBookID,
		&e.CreatedAt, &e.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	e.Status = Status(status)
	if genreID != nil {
		e.GenreID = *genreID
	}
	return e, nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

var _ RepositoryPort = (*Repository)(nil)
