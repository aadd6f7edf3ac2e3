package loan

import (
	"context"
	"strconv"
	"time"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort abstracts approval-history recording.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service governs the loan lifecycle state machine.
type Service struct {
	repo       RepositoryPort
	audit      AuditPort
	approvals  ApprovalPort
	ratePerDay int64
	now        func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// FineRatePerDay is the suggested late fee per overdue day, in rupiah.
	FineRatePerDay int64
}

// NewService builds a Service. audit and approvals may be nil in tests.
func NewService(repo RepositoryPort, audit AuditPort, approvals ApprovalPort, cfg ServiceConfig) *Service {
	rate := cfg.FineRatePerDay
	if rate < 0 {
		rate = 0
	}
	return &Service{repo: repo, audit: audit, approvals: approvals, ratePerDay: rate, now: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Request creates a pending loan for a member. Stock is not reserved at
// request time; approval is the commitment point that decrements a copy.
func (s *Service) Request(ctx context.Context, memberID, bookID int64, durationDays int) (*Loan, error) {
	if durationDays < 1 {
		return nil, ErrInvalidDuration
	}
	now := s.now()
	result := Loan{
		BorrowerID:  memberID,
		BookID:      bookID,
		Status:      StatusPending,
		RequestedAt: now,
		DueDate:     now.AddDate(0, 0, durationDays),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		if !stock.Approved {
			return ErrNotApproved
		}
		if stock.AvailableCopies < 1 {
			return ErrOutOfStock
		}
		active, err := tx.HasActiveLoan(ctx, memberID, bookID)
		if err != nil {
			return err
		}
		if active {
			return ErrDuplicateActiveLoan
		}
		id, err := tx.InsertLoan(ctx, result)
		if err != nil {
			return err
		}
		result.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, result.ID, memberID, shared.ApprovalSubmit, "")
	return &result, nil
}

// Decide approves or rejects a pending loan. Approval re-checks stock at
// decision time inside the transaction: the count may have changed since the
// request was made.
func (s *Service) Decide(ctx context.Context, loanID int64, approve bool, note string, actor authz.Identity) (*Loan, error) {
	if !approve && note == "" {
		return nil, ErrNoteRequired
	}
	var result Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if l.Status != StatusPending {
			return ErrInvalidState
		}
		if approve {
			stock, err := tx.GetBookForUpdate(ctx, l.BookID)
			if err != nil {
				return err
			}
			if stock.AvailableCopies < 1 {
				return ErrOutOfStock
			}
			if err := tx.SetBookAvailable(ctx, l.BookID, stock.AvailableCopies-1); err != nil {
				return err
			}
			borrowed := s.now()
			l.Status = StatusDipinjam
			l.BorrowedAt = &borrowed
		} else {
			l.Status = StatusRejected
		}
		if note != "" {
			l.Note = note
		}
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	action := shared.ApprovalApprove
	if !approve {
		action = shared.ApprovalReject
	}
	s.recordApproval(ctx, result.ID, actor.UserID, action, note)
	s.recordAudit(ctx, actor, "loan.decide", result.ID)
	return &result, nil
}

// Return completes an active loan: the copy goes back on shelf (bounded at
// total) and the caller-supplied fine is stored as-is. The computed late fee
// is a suggestion surfaced via SuggestedFine, not auto-applied.
func (s *Service) Return(ctx context.Context, loanID int64, fine int64, note string, actor authz.Identity) (*Loan, error) {
	if fine < 0 {
		return nil, ErrNegativeFine
	}
	var result Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		l, err := tx.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if l.Status != StatusDipinjam {
			return ErrInvalidState
		}
		stock, err := tx.GetBookForUpdate(ctx, l.BookID)
		if err != nil {
			return err
		}
		available := stock.AvailableCopies + 1
		if available > stock.TotalCopies {
			available = stock.TotalCopies
		}
		if err := tx.SetBookAvailable(ctx, l.BookID, available); err != nil {
			return err
		}
		returned := s.now()
		l.Status = StatusDikembalikan
		l.ReturnedAt = &returned
		l.Fine = fine
		if note != "" {
			l.Note = note
		}
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "loan.return", result.ID)
	return &result, nil
}

// Get fetches a loan. Members only see their own loans; a foreign loan is
// reported as not found so IDs cannot be probed.
func (s *Service) Get(ctx context.Context, viewer authz.Identity, id int64) (*Loan, error) {
	l, err := s.repo.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer.Role == authz.RoleMember && l.BorrowerID != viewer.UserID {
		return nil, shared.ErrNotFound
	}
	return &l, nil
}

// List returns loans visible to the viewer. Members are force-scoped to
// their own loans at the query layer, whatever filter they pass.
func (s *Service) List(ctx context.Context, viewer authz.Identity, filter Filter) ([]Loan, shared.Pagination, error) {
	if viewer.Role == authz.RoleMember {
		filter.BorrowerID = viewer.UserID
	}
	loans, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return loans, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// SuggestedFine computes the advisory late fee for a loan right now.
func (s *Service) SuggestedFine(l Loan) int64 {
	return ComputeLateFee(l, s.ratePerDay, s.now())
}

func (s *Service) recordApproval(ctx context.Context, loanID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  shared.ApprovalModuleLoan,
		RefID:   loanID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Identity, action string, loanID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "loan",
		EntityID: strconv.FormatInt(loanID, 10),
	})
}
