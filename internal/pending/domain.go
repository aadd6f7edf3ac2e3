package pending

import (
	"fmt"
	"time"

	"github.com/pustakalab/pustaka/internal/platform/httpx"
)

// Status is a pending entry's state: pending -> approved | rejected, both
// decisions terminal.
type Status string

const (
	// StatusPending awaits an admin decision.
	StatusPending Status = "pending"
	// StatusApproved was promoted into the live catalog.
	StatusApproved Status = "approved"
	// StatusRejected was declined; no catalog entry exists for it.
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Entry is a staff-submitted catalog candidate. After approval it remains as
// an audit record pointing at the catalog entry it materialized.
type Entry struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	Publisher       string     `json:"publisher"`
	Year            int        `json:"year"`
	ISBN            string     `json:"isbn"`
	Pages           int        `json:"pages"`
	Description     string     `json:"description"`
	CoverURL        string     `json:"cover_url"`
	GenreID         int64      `json:"genre_id"`
	AvailableCopies int        `json:"available_copies"`
	TotalCopies     int        `json:"total_copies"`
	TagIDs          []int64    `json:"tag_ids,omitempty"`
	Status          Status     `json:"status"`
	SubmitterID     int64      `json:"submitter_id"`
	ApproverID      *int64     `json:"approver_id,omitempty"`
	AdminNote       string     `json:"admin_note"`
	CreatedBookID   *int64     `json:"created_book_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
}

// Filter narrows pending-entry listings.
type Filter struct {
	Status      Status
	SubmitterID int64
	Page        int
	PerPage     int
}

var (
	// ErrAlreadyProcessed indicates the entry has left the pending state.
	ErrAlreadyProcessed = fmt.Errorf("%w: entry already processed", httpx.ErrConflict)
	// ErrCopyCounts indicates invalid copy counts on submission.
	ErrCopyCounts = fmt.Errorf("%w: copy counts must satisfy 0 <= available <= total", httpx.ErrValidation)
)
