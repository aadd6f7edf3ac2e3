package pending

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

// Service governs the pending-entry approval state machine.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	approvals ApprovalPort
	now       func() time.Time
}

// NewService builds a Service. audit and approvals may be nil in tests.
func NewService(repo RepositoryPort, audit AuditPort, approvals ApprovalPort) *Service {
	return &Service{repo: repo, audit: audit, approvals: approvals, now: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit inserts a staff-submitted catalog candidate. No approval is needed
// to create the pending record itself, only to promote it into the catalog.
// A zero available count defaults to the total: a new acquisition has every
// copy on shelf.
func (s *Service) Submit(ctx context.Context, submitter authz.Identity, e Entry) (*Entry, error) {
	if e.AvailableCopies == 0 {
		e.AvailableCopies = e.TotalCopies
	}
	if e.AvailableCopies < 0 || e.TotalCopies < 0 || e.AvailableCopies > e.TotalCopies {
		return nil, ErrCopyCounts
	}
	e.Status = StatusPending
	e.SubmitterID = submitter.UserID
	e.ApproverID = nil
	e.CreatedBookID = nil

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertEntry(ctx, e)
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordApproval(ctx, e.ID, submitter.UserID, shared.ApprovalSubmit, "")
	return &e, nil
}

// Decide approves or rejects a pending entry. Approval atomically creates
// the catalog entry, copies tag links forward and marks the record approved;
// a concurrent decision on the same entry sees the status flip under lock
// and fails ErrAlreadyProcessed.
func (s *Service) Decide(ctx context.Context, id int64, approve bool, note string, approver authz.Identity) (*Entry, error) {
	var result Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		decided := s.now()
		approverID := approver.UserID
		e.ApproverID = &approverID
		e.AdminNote = note
		e.DecidedAt = &decided
		if approve {
			bookID, err := tx.MaterializeBook(ctx, e)
			if err != nil {
				return err
			}
			if err := tx.CopyTagLinks(ctx, e.ID, bookID); err != nil {
				return err
			}
			e.Status = StatusApproved
			e.CreatedBookID = &bookID
		} else {
			e.Status = StatusRejected
		}
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	action := shared.ApprovalApprove
	if !approve {
		action = shared.ApprovalReject
	}
	s.recordApproval(ctx, result.ID, approver.UserID, action, note)
	s.recordAudit(ctx, approver, "pending.decide", result.ID)
	return &result, nil
}

// Get fetches a pending entry.
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns a filtered page of pending entries.
func (s *Service) List(ctx context.Context, filter Filter) ([]Entry, shared.Pagination, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) recordApproval(ctx context.Context, refID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  shared.ApprovalModulePending,
		RefID:   refID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Identity, action string, refID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "pending_book",
		EntityID: strconv.FormatInt(refID, 10),
	})
}
