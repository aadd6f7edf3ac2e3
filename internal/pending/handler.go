package pending

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

// Handler wires HTTP endpoints for pending catalog entries.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *authz.Gate
	validator *validator.Validate
}

// NewHandler constructs a pending-entry handler.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate, validator: validator.New()}
}

// MountRoutes registers pending-entry routes. Submission and listing are for
// staf and admin; the decision is admin only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.RoleStaf, authz.RoleAdmin))
		r.Post("/pending-books", h.handleSubmit)
		r.Get("/pending-books", h.handleList)
		r.Get("/pending-books/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.RoleAdmin))
		r.Post("/pending-books/{id}/decision", h.handleDecide)
	})
}

type submitPayload struct {
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
	TotalCopies     int     `json:"total_copies" validate:"required,gte=1"`
	TagIDs          []int64 `json:"tag_ids"`
}

type decisionPayload struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Note   string `json:"note"`
}

type listResponse struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	submitter := authz.IdentityFromContext(r.Context())
	entry, err := h.service.Submit(r.Context(), submitter, Entry{
		Title:           payload.Title,
		Author:          payload.Author,
		Publisher:       payload.Publisher,
		Year:            payload.Year,
		ISBN:            payload.ISBN,
		Pages:           payload.Pages,
		Description:     payload.Description,
		CoverURL:        payload.CoverURL,
		GenreID:         payload.GenreID,
		AvailableCopies: payload.AvailableCopies,
		TotalCopies:     payload.TotalCopies,
		TagIDs:          payload.TagIDs,
	})
	if err != nil {
		h.respondErr(w, "submit pending book", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{}
	if status := Status(q.Get("status")); status != "" {
		if !status.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
			return
		}
		filter.Status = status
	}
	if v, err := strconv.ParseInt(q.Get("submitter_id"), 10, 64); err == nil {
		filter.SubmitterID = v
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil {
		filter.PerPage = v
	}

	entries, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondErr(w, "list pending books", err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Entries: entries, Pagination: page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get pending book", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var payload decisionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	approver := authz.IdentityFromContext(r.Context())
	entry, err := h.service.Decide(r.Context(), id, payload.Action == "approve", payload.Note, approver)
	if err != nil {
		h.respondErr(w, "decide pending book", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "pending entry not found")
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
