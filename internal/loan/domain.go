package loan

import (
	"fmt"
	"time"

	"github.com/pustakalab/pustaka/internal/platform/httpx"
)

// Status is a loan lifecycle state. Legal transitions:
// pending -> dipinjam | rejected, dipinjam -> dikembalikan.
// rejected and dikembalikan are terminal.
type Status string

const (
	// StatusPending is a borrow request awaiting a staff decision.
	StatusPending Status = "pending"
	// StatusDipinjam is an active loan; one copy is out.
	StatusDipinjam Status = "dipinjam"
	// StatusDikembalikan is a completed loan; the copy is back on shelf.
	StatusDikembalikan Status = "dikembalikan"
	// StatusRejected is a denied borrow request.
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDipinjam, StatusDikembalikan, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusDikembalikan
}

// Loan is a borrower's claim on one copy of a book.
type Loan struct {
	ID          int64      `json:"id"`
	BorrowerID  int64      `json:"borrower_id"`
	BookID      int64      `json:"book_id"`
	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	DueDate     time.Time  `json:"due_date"`
	BorrowedAt  *time.Time `json:"borrowed_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	Fine        int64      `json:"fine"`
	Note        string     `json:"note"`
}

// BookStock is the slice of a catalog entry the lifecycle needs: approval
// flag plus copy counts, re-read under lock before every mutation.
type BookStock struct {
	ID              int64
	Approved        bool
	AvailableCopies int
	TotalCopies     int
}

// Filter narrows loan listings.
type Filter struct {
	BorrowerID int64
	BookID     int64
	Status     Status
	Page       int
	PerPage    int
}

var (
	// ErrNotApproved indicates the book is not approved for lending.
	ErrNotApproved = fmt.Errorf("%w: book not approved for lending", httpx.ErrConflict)
	// ErrOutOfStock indicates no available copy at check time.
	ErrOutOfStock = fmt.Errorf("%w: no available copies", httpx.ErrConflict)
	// ErrDuplicateActiveLoan indicates the borrower already holds a pending
	// or active loan on the book.
	ErrDuplicateActiveLoan = fmt.Errorf("%w: borrower already has an active loan for this book", httpx.ErrConflict)
	// ErrInvalidState indicates the loan is not in the status the operation
	// requires.
	ErrInvalidState = fmt.Errorf("%w: loan is not in a valid state for this operation", httpx.ErrConflict)
	// ErrNoteRequired indicates a rejection without an explanation.
	ErrNoteRequired = fmt.Errorf("%w: a note is required when rejecting", httpx.ErrValidation)
	// ErrNegativeFine indicates a fine below zero.
	ErrNegativeFine = fmt.Errorf("%w: fine must be >= 0", httpx.ErrValidation)
	// ErrInvalidDuration indicates a non-positive loan duration.
	ErrInvalidDuration = fmt.Errorf("%w: duration must be at least one day", httpx.ErrValidation)
)
