package loan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/shared"
)

// memoryRepo mimics the transactional repository: every read inside WithTx
// sees the current authoritative state, exactly like the FOR UPDATE re-read
// in the PostgreSQL implementation.
type memoryRepo struct {
	books  map[int64]BookStock
	loans  map[int64]Loan
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{books: make(map[int64]BookStock), loans: make(map[int64]Loan)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetLoan(ctx context.Context, id int64) (Loan, error) {
	if l, ok := r.loans[id]; ok {
		return l, nil
	}
	return Loan{}, shared.ErrNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Loan, int, error) {
	var out []Loan
	for _, l := range r.loans {
		if filter.BorrowerID != 0 && l.BorrowerID != filter.BorrowerID {
			continue
		}
		if filter.BookID != 0 && l.BookID != filter.BookID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

func (t *memoryTx) GetBookForUpdate(ctx context.Context, bookID int64) (BookStock, error) {
	if b, ok := t.repo.books[bookID]; ok {
		return b, nil
	}
	return BookStock{}, shared.ErrNotFound
}

func (t *memoryTx) SetBookAvailable(ctx context.Context, bookID int64, available int) error {
	b, ok := t.repo.books[bookID]
	if !ok {
		return shared.ErrNotFound
	}
	b.AvailableCopies = available
	t.repo.books[bookID] = b
	return nil
}

func (t *memoryTx) HasActiveLoan(ctx context.Context, borrowerID, bookID int64) (bool, error) {
	for _, l := range t.repo.loans {
		if l.BorrowerID == borrowerID && l.BookID == bookID &&
			(l.Status == StatusPending || l.Status == StatusDipinjam) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertLoan(ctx context.Context, l Loan) (int64, error) {
	t.repo.nextID++
	l.ID = t.repo.nextID
	t.repo.loans[l.ID] = l
	return l.ID, nil
}

func (t *memoryTx) GetLoanForUpdate(ctx context.Context, loanID int64) (Loan, error) {
	if l, ok := t.repo.loans[loanID]; ok {
		return l, nil
	}
	return Loan{}, shared.ErrNotFound
}

func (t *memoryTx) UpdateLoan(ctx context.Context, l Loan) error {
	if _, ok := t.repo.loans[l.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.loans[l.ID] = l
	return nil
}

var (
	staf  = authz.Identity{UserID: 100, Role: authz.RoleStaf}
	admin = authz.Identity{UserID: 101, Role: authz.RoleAdmin}
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, ServiceConfig{FineRatePerDay: 1000})
}

func TestRequestPreconditions(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: false, AvailableCopies: 1, TotalCopies: 1}
	repo.books[2] = BookStock{ID: 2, Approved: true, AvailableCopies: 0, TotalCopies: 1}
	repo.books[3] = BookStock{ID: 3, Approved: true, AvailableCopies: 2, TotalCopies: 2}
	svc := newService(repo)
	ctx := context.Background()

	_, err := svc.Request(ctx, 1, 99, 7)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Request(ctx, 1, 1, 7)
	require.ErrorIs(t, err, ErrNotApproved)

	_, err = svc.Request(ctx, 1, 2, 7)
	require.ErrorIs(t, err, ErrOutOfStock)

	_, err = svc.Request(ctx, 1, 3, 0)
	require.ErrorIs(t, err, ErrInvalidDuration)

	l, err := svc.Request(ctx, 1, 3, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, l.Status)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 7), l.DueDate, 5*time.Second)
	// Request does not reserve a copy; approval is the commitment point.
	require.Equal(t, 2, repo.books[3].AvailableCopies)

	_, err = svc.Request(ctx, 1, 3, 7)
	require.ErrorIs(t, err, ErrDuplicateActiveLoan)
}

func TestDuplicateBlocksWhileActiveNotAfterReturn(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 2, TotalCopies: 2}
	svc := newService(repo)
	ctx := context.Background()

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)
	_, err = svc.Decide(ctx, l.ID, true, "", staf)
	require.NoError(t, err)

	// Still blocked while dipinjam.
	_, err = svc.Request(ctx, 1, 1, 7)
	require.ErrorIs(t, err, ErrDuplicateActiveLoan)

	_, err = svc.Return(ctx, l.ID, 0, "", staf)
	require.NoError(t, err)

	// Terminal statuses do not count against the pair invariant.
	_, err = svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)
}

func TestDecideApproveDecrementsStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 1, TotalCopies: 1}
	svc := newService(repo)
	ctx := context.Background()

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, l.ID, true, "", staf)
	require.NoError(t, err)
	require.Equal(t, StatusDipinjam, decided.Status)
	require.NotNil(t, decided.BorrowedAt)
	require.Equal(t, 0, repo.books[1].AvailableCopies)
}

func TestDecideRejectRequiresNote(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 1, TotalCopies: 1}
	svc := newService(repo)
	ctx := context.Background()

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, l.ID, false, "", staf)
	require.ErrorIs(t, err, ErrNoteRequired)

	rejected, err := svc.Decide(ctx, l.ID, false, "buku rusak", staf)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	// Rejection never touches stock.
	require.Equal(t, 1, repo.books[1].AvailableCopies)
}

func TestDecideRechecksStockAtDecisionTime(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 1, TotalCopies: 1}
	svc := newService(repo)
	ctx := context.Background()

	// Two members request the last copy; both requests are legal.
	first, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)
	second, err := svc.Request(ctx, 2, 1, 7)
	require.NoError(t, err)

	_, err = svc.Decide(ctx, first.ID, true, "", staf)
	require.NoError(t, err)

	// The second approval re-reads stock and must fail without mutation.
	_, err = svc.Decide(ctx, second.ID, true, "", staf)
	require.ErrorIs(t, err, ErrOutOfStock)
	require.Equal(t, 0, repo.books[1].AvailableCopies)
	require.Equal(t, StatusPending, repo.loans[second.ID].Status)
}

func TestDecideTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 2, TotalCopies: 2}
	svc := newService(repo)
	ctx := context.Background()

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)
	_, err = svc.Decide(ctx, l.ID, true, "", staf)
	require.NoError(t, err)

	// A second decision on the same loan hits the status guard, so stock can
	// never be double-decremented.
	_, err = svc.Decide(ctx, l.ID, true, "", admin)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, repo.books[1].AvailableCopies)
}

func TestReturnGuardsAndBounds(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 1, TotalCopies: 1}
	svc := newService(repo)
	ctx := context.Background()

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)

	// Not dipinjam yet: return is invalid and mutates nothing.
	_, err = svc.Return(ctx, l.ID, 0, "", staf)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 1, repo.books[1].AvailableCopies)

	_, err = svc.Return(ctx, l.ID, -5, "", staf)
	require.ErrorIs(t, err, ErrNegativeFine)

	_, err = svc.Decide(ctx, l.ID, true, "", staf)
	require.NoError(t, err)

	returned, err := svc.Return(ctx, l.ID, 3000, "telat 3 hari", staf)
	require.NoError(t, err)
	require.Equal(t, StatusDikembalikan, returned.Status)
	require.NotNil(t, returned.ReturnedAt)
	require.Equal(t, int64(3000), returned.Fine)
	require.Equal(t, 1, repo.books[1].AvailableCopies)

	// Terminal: a second return fails.
	_, err = svc.Return(ctx, l.ID, 0, "", staf)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReturnAvailableBoundedByTotal(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 2, TotalCopies: 2}
	svc := newService(repo)
	ctx := context.Background()

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)
	_, err = svc.Decide(ctx, l.ID, true, "", staf)
	require.NoError(t, err)

	// Simulate a concurrent stock correction that already restored the copy.
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 2, TotalCopies: 2}

	_, err = svc.Return(ctx, l.ID, 0, "", staf)
	require.NoError(t, err)
	require.Equal(t, 2, repo.books[1].AvailableCopies, "available never exceeds total")
}

func TestListScopesMembersToSelf(t *testing.T) {
	repo := newMemoryRepo()
	repo.loans[1] = Loan{ID: 1, BorrowerID: 1, BookID: 1, Status: StatusPending}
	repo.loans[2] = Loan{ID: 2, BorrowerID: 2, BookID: 1, Status: StatusDipinjam}
	svc := newService(repo)
	ctx := context.Background()

	member := authz.Identity{UserID: 1, Role: authz.RoleMember}

	// A member asking for another borrower's loans is silently self-scoped.
	loans, _, err := svc.List(ctx, member, Filter{BorrowerID: 2})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Equal(t, int64(1), loans[0].BorrowerID)

	loans, _, err = svc.List(ctx, staf, Filter{})
	require.NoError(t, err)
	require.Len(t, loans, 2)

	// Get on a foreign loan is indistinguishable from a missing one.
	_, err = svc.Get(ctx, member, 2)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestComputeLateFee(t *testing.T) {
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	l := Loan{Status: StatusDipinjam, DueDate: due}

	require.EqualValues(t, 0, ComputeLateFee(l, 1000, due.Add(-time.Hour)))
	require.EqualValues(t, 0, ComputeLateFee(l, 1000, due))
	require.EqualValues(t, 1000, ComputeLateFee(l, 1000, due.Add(time.Hour)))
	require.EqualValues(t, 1000, ComputeLateFee(l, 1000, due.Add(24*time.Hour)))
	require.EqualValues(t, 2000, ComputeLateFee(l, 1000, due.Add(25*time.Hour)))
	require.EqualValues(t, 7000, ComputeLateFee(l, 1000, due.Add(7*24*time.Hour)))

	// Strictly increasing in days late for a fixed rate.
	prev := int64(0)
	for days := 1; days <= 30; days++ {
		fee := ComputeLateFee(l, 500, due.Add(time.Duration(days)*24*time.Hour))
		require.Greater(t, fee, prev)
		prev = fee
	}

	// Only active loans accrue fees.
	l.Status = StatusDikembalikan
	require.EqualValues(t, 0, ComputeLateFee(l, 1000, due.Add(48*time.Hour)))
}

func TestLendingScenario(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 1, TotalCopies: 1}
	svc := newService(repo)
	ctx := context.Background()

	// Member A requests a 7-day loan.
	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPending, l.Status)

	// Admin approves: active loan, stock drops to zero.
	approved, err := svc.Decide(ctx, l.ID, true, "", admin)
	require.NoError(t, err)
	require.Equal(t, StatusDipinjam, approved.Status)
	require.Equal(t, 0, repo.books[1].AvailableCopies)

	// Member B's request on the same book fails out of stock.
	_, err = svc.Request(ctx, 2, 1, 7)
	require.ErrorIs(t, err, ErrOutOfStock)

	// Admin returns A's loan with no fine: stock restored.
	returned, err := svc.Return(ctx, l.ID, 0, "", admin)
	require.NoError(t, err)
	require.Equal(t, StatusDikembalikan, returned.Status)
	require.EqualValues(t, 0, returned.Fine)
	require.Equal(t, 1, repo.books[1].AvailableCopies)
}

type failingAudit struct{}

func (failingAudit) Record(ctx context.Context, _ shared.AuditLog) error {
	return context.DeadlineExceeded
}

type failingApprovals struct{}

func (failingApprovals) Record(ctx context.Context, _ shared.ApprovalLog) error {
	return context.DeadlineExceeded
}

func TestRecorderFailureDoesNotFailOperation(t *testing.T) {
	repo := newMemoryRepo()
	repo.books[1] = BookStock{ID: 1, Approved: true, AvailableCopies: 1, TotalCopies: 1}
	svc := NewService(repo, failingAudit{}, failingApprovals{}, ServiceConfig{FineRatePerDay: 1000})
	ctx := context.Background()
	admin := authz.Identity{UserID: 99, Role: authz.RoleAdmin}

	l, err := svc.Request(ctx, 1, 1, 7)
	require.NoError(t, err)

	// The audit and approval trails are best effort: the state transition
	// and the stock mutation must land even when recording fails.
	approved, err := svc.Decide(ctx, l.ID, true, "", admin)
	require.NoError(t, err)
	require.Equal(t, StatusDipinjam, approved.Status)
	require.Equal(t, 0, repo.books[1].AvailableCopies)
}

func TestSuggestedFineUsesConfiguredRate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(fixedClock(now))

	l := Loan{Status: StatusDipinjam, DueDate: now.Add(-49 * time.Hour)}
	require.EqualValues(t, 3000, svc.SuggestedFine(l))
}
