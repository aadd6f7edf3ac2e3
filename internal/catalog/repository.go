package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pustakalab/pustaka/internal/platform/db"
	"github.com/pustakalab/pustaka/internal/shared"
)

// Repository defines persistence operations for the catalog.
type Repository interface {
	List(ctx context.Context, filter Filter) ([]Book, int, error)
	Get(ctx context.Context, id int64) (*Book, error)
	Create(ctx context.Context, book *Book, tagIDs []int64) (int64, error)
	Update(ctx context.Context, book *Book) error
	Delete(ctx context.Context, id int64) error
	ListGenres(ctx context.Context) ([]Genre, error)
	CreateGenre(ctx context.Context, name string) (Genre, error)
	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, name string) (Tag, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const bookColumns = `id, title, author, publisher, year, isbn, pages, description, cover_url,
genre_id, available_copies, total_copies, approved, created_at, updated_at`

// List returns a filtered page of books plus the unpaged total.
func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Book, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.IncludeUnvetted {
		where += ` AND b.approved`
	}
	if filter.Query != "" {
		p := arg("%" + filter.Query + "%")
		where += ` AND (b.title ILIKE ` + p + ` OR b.author ILIKE ` + p + `)`
	}
	if filter.GenreID != 0 {
		where += ` AND b.genre_id = ` + arg(filter.GenreID)
	}
	if filter.TagID != 0 {
		where += ` AND EXISTS (SELECT 1 FROM book_tags bt WHERE bt.book_id = b.id AND bt.tag_id = ` + arg(filter.TagID) + `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM books b`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := `SELECT ` + prefixColumns("b") + ` FROM books b` + where +
		` ORDER BY b.title ASC LIMIT ` + arg(page.PerPage) + ` OFFSET ` + arg(page.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// Get fetches a book with its tags.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Book, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	book, err := scanBook(row)
	if err != nil {
		return nil, err
	}
	tags, err := r.bookTags(ctx, id)
	if err != nil {
		return nil, err
	}
	book.Tags = tags
	return book, nil
}

// Create inserts a book with its tag links.
func (r *PGRepository) Create(ctx context.Context, book *Book, tagIDs []int64) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO books
(title, author, publisher, year, isbn, pages, description, cover_url, genre_id, available_copies, total_copies, approved)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
			book.Title, book.Author, book.Publisher, book.Year, book.ISBN, book.Pages,
			book.Description, book.CoverURL, nullableID(book.GenreID),
			book.AvailableCopies, book.TotalCopies, book.Approved).Scan(&id)
		if err != nil {
			return translateBookErr(err)
		}
		for _, tagID := range tagIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO book_tags (book_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, tagID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update rewrites the mutable columns of a book.
func (r *PGRepository) Update(ctx context.Context, book *Book) error {
	tag, err := r.pool.Exec(ctx, `UPDATE books SET
title=$2, author=$3, publisher=$4, year=$5, isbn=$6, pages=$7, description=$8, cover_url=$9,
genre_id=$10, available_copies=$11, total_copies=$12, approved=$13, updated_at=NOW()
WHERE id=$1`,
		book.ID, book.Title, book.Author, book.Publisher, book.Year, book.ISBN, book.Pages,
		book.Description, book.CoverURL, nullableID(book.GenreID),
		book.AvailableCopies, book.TotalCopies, book.Approved)
	if err != nil {
		return translateBookErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a book.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListGenres returns all genres ordered by name.
func (r *PGRepository) ListGenres(ctx context.Context) ([]Genre, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM genres ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var genres []Genre
	for rows.Next() {
		var g Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// CreateGenre inserts a genre, reusing an existing row with the same name.
func (r *PGRepository) CreateGenre(ctx context.Context, name string) (Genre, error) {
	var g Genre
	err := r.pool.QueryRow(ctx, `INSERT INTO genres (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name`, name).Scan(&g.ID, &g.Name)
	return g, err
}

// ListTags returns all tags ordered by name.
func (r *PGRepository) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM tags ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// CreateTag inserts a tag, reusing an existing row with the same name.
func (r *PGRepository) CreateTag(ctx context.Context, name string) (Tag, error) {
	var t Tag
	err := r.pool.QueryRow(ctx, `INSERT INTO tags (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name`, name).Scan(&t.ID, &t.Name)
	return t, err
}

func (r *PGRepository) bookTags(ctx context.Context, bookID int64) ([]Tag, error) {
	rows, err := r.pool.Query(ctx, `SELECT t.id, t.name FROM tags t
JOIN book_tags bt ON bt.tag_id = t.id WHERE bt.book_id = $1 ORDER BY t.name ASC`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanBook(row pgx.Row) (*Book, error) {
	var b Book
	var genreID *int64
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Publisher, &b.Year, &b.ISBN, &b.Pages,
		&b.Description, &b.CoverURL, &genreID, &b.AvailableCopies, &b.TotalCopies,
		&b.Approved, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if genreID != nil {
		b.GenreID = *genreID
	}
	return &b, nil
}

func translateBookErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrISBNTaken
	}
	return err
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func prefixColumns(alias string) string {
	return alias + `.id, ` + alias + `.title, ` + alias + `.author, ` + alias + `.publisher, ` +
		alias + `.year, ` + alias + `.isbn, ` + alias + `.pages, ` + alias + `.description, ` +
		alias + `.cover_url, ` + alias + `.genre_id, ` + alias + `.available_copies, ` +
		alias + `.total_copies, ` + alias + `.approved, ` + alias + `.created_at, ` + alias + `.updated_at`
}

var _ Repository = (*PGRepository)(nil)
