package pending

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/shared"
)

type memoryBook struct {
	id    int64
	title string
	total int
	tags  []int64
}

type memoryRepo struct {
	entries map[int64]Entry
	books   []memoryBook
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[int64]Entry)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Entry, error) {
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	return Entry{}, shared.ErrNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Entry, int, error) {
	var out []Entry
	for _, e := range r.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Entry, error) {
	return t.repo.Get(ctx, id)
}

func (t *memoryTx) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	t.repo.nextID++
	e.ID = t.repo.nextID
	t.repo.entries[e.ID] = e
	return e.ID, nil
}

func (t *memoryTx) UpdateEntry(ctx context.Context, e Entry) error {
	if _, ok := t.repo.entries[e.ID]; !ok {
		return shared.ErrNotFound
	}
	t.repo.entries[e.ID] = e
	return nil
}

func (t *memoryTx) MaterializeBook(ctx context.Context, e Entry) (int64, error) {
	t.repo.nextID++
	t.repo.books = append(t.repo.books, memoryBook{id: t.repo.nextID, title: e.Title, total: e.TotalCopies})
	return t.repo.nextID, nil
}

func (t *memoryTx) CopyTagLinks(ctx context.Context, pendingID, bookID int64) error {
	e := t.repo.entries[pendingID]
	for i := range t.repo.books {
		if t.repo.books[i].id == bookID {
			t.repo.books[i].tags = append([]int64(nil), e.TagIDs...)
		}
	}
	return nil
}

var (
	staf  = authz.Identity{UserID: 10, Role: authz.RoleStaf}
	admin = authz.Identity{UserID: 20, Role: authz.RoleAdmin}
)

func TestSubmitDefaultsAvailableToTotal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Submit(ctx, staf, Entry{Title: "X", Author: "Y", TotalCopies: 2})
	require.NoError(t, err)
	require.Equal(t, StatusPending, entry.Status)
	require.Equal(t, int64(10), entry.SubmitterID)
	require.Equal(t, 2, entry.AvailableCopies)

	_, err = svc.Submit(ctx, staf, Entry{Title: "X", Author: "Y", AvailableCopies: 3, TotalCopies: 2})
	require.ErrorIs(t, err, ErrCopyCounts)
}

func TestApproveMaterializesExactlyOneBook(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Submit(ctx, staf, Entry{Title: "X", Author: "Y", TotalCopies: 2, TagIDs: []int64{7, 8}})
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, entry.ID, true, "lengkap", admin)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
	require.NotNil(t, decided.ApproverID)
	require.Equal(t, int64(20), *decided.ApproverID)
	require.NotNil(t, decided.CreatedBookID)
	require.NotNil(t, decided.DecidedAt)

	require.Len(t, repo.books, 1)
	require.Equal(t, "X", repo.books[0].title)
	require.Equal(t, 2, repo.books[0].total)
	require.Equal(t, []int64{7, 8}, repo.books[0].tags)

	// A second decision on the processed entry fails and creates nothing.
	_, err = svc.Decide(ctx, entry.ID, true, "", admin)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, repo.books, 1)
}

func TestRejectCreatesNoBook(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.Submit(ctx, staf, Entry{Title: "X", Author: "Y", TotalCopies: 2})
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, entry.ID, false, "duplicate", admin)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, decided.Status)
	require.Equal(t, "duplicate", decided.AdminNote)
	require.Nil(t, decided.CreatedBookID)
	require.Empty(t, repo.books)

	// Terminal: rejection cannot be reversed into approval.
	_, err = svc.Decide(ctx, entry.ID, true, "", admin)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Empty(t, repo.books)
}

func TestDecideUnknownEntry(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.Decide(context.Background(), 42, true, "", admin)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
