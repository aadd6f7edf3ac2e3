package catalog

import (
	"fmt"
	"time"

	"github.com/pustakalab/pustaka/internal/platform/httpx"
)

// Book is a catalog entry. Copy counts obey 0 <= available <= total at all
// times; approval gates visibility and borrowability.
type Book struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Publisher       string    `json:"publisher"`
	Year            int       `json:"year"`
	ISBN            string    `json:"isbn"`
	Pages           int       `json:"pages"`
	Description     string    `json:"description"`
	CoverURL        string    `json:"cover_url"`
	GenreID         int64     `json:"genre_id"`
	AvailableCopies int       `json:"available_copies"`
	TotalCopies     int       `json:"total_copies"`
	Approved        bool      `json:"approved"`
	Tags            []Tag     `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Genre groups books by subject.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Tag is a free-form label attached to books.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Filter narrows catalog listings.
type Filter struct {
	Query           string
	GenreID         int64
	TagID           int64
	IncludeUnvetted bool
	Page            int
	PerPage         int
}

var (
	// ErrCopyCounts indicates copy counts violating 0 <= available <= total.
	ErrCopyCounts = fmt.Errorf("%w: copy counts must satisfy 0 <= available <= total", httpx.ErrValidation)
	// ErrISBNTaken indicates a duplicate ISBN.
	ErrISBNTaken = fmt.Errorf("%w: isbn already registered", httpx.ErrConflict)
)
