package catalog

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog operations.
type Service struct {
	repo  Repository
	audit AuditPort
	caser cases.Caser
}

// NewService builds a Service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, caser: cases.Title(language.Indonesian)}
}

// List returns a page of books. Unapproved entries are only visible to staf
// and admin viewers.
func (s *Service) List(ctx context.Context, viewer authz.Identity, filter Filter) ([]Book, shared.Pagination, error) {
	filter.IncludeUnvetted = viewer.Role == authz.RoleStaf || viewer.Role == authz.RoleAdmin
	books, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return books, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Get fetches a single book.
func (s *Service) Get(ctx context.Context, id int64) (*Book, error) {
	return s.repo.Get(ctx, id)
}

// Create inserts an admin-authored book. Direct admin writes are live
// immediately; only staf submissions go through the pending queue.
func (s *Service) Create(ctx context.Context, actor authz.Identity, book Book, tagIDs []int64) (*Book, error) {
	if err := validateCopies(book.AvailableCopies, book.TotalCopies); err != nil {
		return nil, err
	}
	book.Approved = true
	id, err := s.repo.Create(ctx, &book, tagIDs)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "catalog.create", id)
	return s.repo.Get(ctx, id)
}

// Update rewrites a book.
func (s *Service) Update(ctx context.Context, actor authz.Identity, book Book) (*Book, error) {
	if err := validateCopies(book.AvailableCopies, book.TotalCopies); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &book); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, "catalog.update", book.ID)
	return s.repo.Get(ctx, book.ID)
}

// Delete removes a book.
func (s *Service) Delete(ctx context.Context, actor authz.Identity, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "catalog.delete", id)
	return nil
}

// ListGenres returns all genres.
func (s *Service) ListGenres(ctx context.Context) ([]Genre, error) {
	return s.repo.ListGenres(ctx)
}

// CreateGenre inserts a genre with a normalized display name.
func (s *Service) CreateGenre(ctx context.Context, name string) (Genre, error) {
	return s.repo.CreateGenre(ctx, s.normalizeName(name))
}

// ListTags returns all tags.
func (s *Service) ListTags(ctx context.Context) ([]Tag, error) {
	return s.repo.ListTags(ctx)
}

// CreateTag inserts a tag with a normalized display name.
func (s *Service) CreateTag(ctx context.Context, name string) (Tag, error) {
	return s.repo.CreateTag(ctx, s.normalizeName(name))
}

func (s *Service) normalizeName(name string) string {
	return s.caser.String(strings.ToLower(strings.TrimSpace(name)))
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Identity, action string, bookID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "book",
		EntityID: strconv.FormatInt(bookID, 10),
	})
}

func validateCopies(available, total int) error {
	if available < 0 || total < 0 || available > total {
		return ErrCopyCounts
	}
	return nil
}
