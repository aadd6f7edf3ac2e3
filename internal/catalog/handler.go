package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/platform/httpx"
	"github.com/pustakalab/pustaka/internal/shared"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *authz.Gate
	validator *validator.Validate
}

// NewHandler constructs a catalog handler.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate, validator: validator.New()}
}

// MountRoutes registers catalog routes. Reads are open to every role
// including anonymous visitors; writes are admin only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/books", h.handleList)
	r.Get("/books/{id}", h.handleGet)
	r.Get("/genres", h.handleListGenres)
	r.Get("/tags", h.handleListTags)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.RoleAdmin))
		r.Post("/books", h.handleCreate)
		r.Put("/books/{id}", h.handleUpdate)
		r.Delete("/books/{id}", h.handleDelete)
		r.Post("/genres", h.handleCreateGenre)
		r.Post("/tags", h.handleCreateTag)
	})
}

type bookPayload struct {
	Title           string  `json:"title" validate:"required"`
	Author          string  `json:"author" validate:"required"`
	Publisher       string  `json:"publisher"`
	Year            int     `json:"year" validate:"omitempty,gte=0"`
	ISBN            string  `json:"isbn"`
	Pages           int     `json:"pages" validate:"omitempty,gte=0"`
	Description     string  `json:"description"`
	CoverURL        string  `json:"cover_url"`
	GenreID         int64   `json:"genre_id"`
	AvailableCopies int     `json:"available_copies" validate:"gte=0"`
	TotalCopies     int     `json:"total_copies" validate:"gte=0"`
	TagIDs          []int64 `json:"tag_ids"`
}

type namePayload struct {
	Name string `json:"name" validate:"required,min=2"`
}

type listResponse struct {
	Books      []Book            `json:"books"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Query: q.Get("q")}
	if v, err := strconv.ParseInt(q.Get("genre_id"), 10, 64); err == nil {
		filter.GenreID = v
	}
	if v, err := strconv.ParseInt(q.Get("tag_id"), 10, 64); err == nil {
		filter.TagID = v
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil {
		filter.PerPage = v
	}

	viewer := authz.IdentityFromContext(r.Context())
	books, page, err := h.service.List(r.Context(), viewer, filter)
	if err != nil {
		h.logger.Error("list books", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if books == nil {
		books = []Book{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Books: books, Pagination: page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid book id")
		return
	}
	book, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get book", err)
		return
	}
	httpx.JSON(w, http.StatusOK, book)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeBook(w, r)
	if !ok {
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	book, err := h.service.Create(r.Context(), actor, payload.toBook(0), payload.TagIDs)
	if err != nil {
		h.respondErr(w, "create book", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, book)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid book id")
		return
	}
	payload, ok := h.decodeBook(w, r)
	if !ok {
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	book := payload.toBook(id)
	book.Approved = true
	updated, err := h.service.Update(r.Context(), actor, book)
	if err != nil {
		h.respondErr(w, "update book", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid book id")
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.respondErr(w, "delete book", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleListGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.service.ListGenres(r.Context())
	if err != nil {
		h.respondErr(w, "list genres", err)
		return
	}
	if genres == nil {
		genres = []Genre{}
	}
	httpx.JSON(w, http.StatusOK, genres)
}

func (h *Handler) handleCreateGenre(w http.ResponseWriter, r *http.Request) {
	var payload namePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil || h.validator.Struct(payload) != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name required")
		return
	}
	genre, err := h.service.CreateGenre(r.Context(), payload.Name)
	if err != nil {
		h.respondErr(w, "create genre", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, genre)
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.ListTags(r.Context())
	if err != nil {
		h.respondErr(w, "list tags", err)
		return
	}
	if tags == nil {
		tags = []Tag{}
	}
	httpx.JSON(w, http.StatusOK, tags)
}

func (h *Handler) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var payload namePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil || h.validator.Struct(payload) != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name required")
		return
	}
	tag, err := h.service.CreateTag(r.Context(), payload.Name)
	if err != nil {
		h.respondErr(w, "create tag", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tag)
}

func (h *Handler) decodeBook(w http.ResponseWriter, r *http.Request) (bookPayload, bool) {
	var payload bookPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return payload, false
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return payload, false
	}
	return payload, true
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "book not found")
		return
	}
	if !errors.Is(err, httpx.ErrConflict) && !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (p bookPayload) toBook(id int64) Book {
	return Book{
		ID:              id,
		Title:           p.Title,
		Author:          p.Author,
		Publisher:       p.Publisher,
		Year:            p.Year,
		ISBN:            p.ISBN,
		Pages:           p.Pages,
		Description:     p.Description,
		CoverURL:        p.CoverURL,
		GenreID:         p.GenreID,
		AvailableCopies: p.AvailableCopies,
		TotalCopies:     p.TotalCopies,
	}
}
