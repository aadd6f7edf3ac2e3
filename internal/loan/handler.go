package loan

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

// Handler wires HTTP endpoints for the loan lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *authz.Gate
	validator *validator.Validate
}

// NewHandler constructs a loan handler.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate, validator: validator.New()}
}

// MountRoutes registers loan routes with their role allow-lists.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.RoleMember))
		r.Post("/loans", h.handleRequest)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.RoleMember, authz.RoleStaf, authz.RoleAdmin))
		r.Get("/loans", h.handleList)
		r.Get("/loans/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.RoleStaf, authz.RoleAdmin))
		r.Post("/loans/{id}/decision", h.handleDecide)
		r.Post("/loans/{id}/return", h.handleReturn)
	})
}

type requestPayload struct {
	BookID       int64 `json:"book_id" validate:"required,gt=0"`
	DurationDays int   `json:"duration_days" validate:"required,gte=1"`
}

type decisionPayload struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Note   string `json:"note"`
}

type returnPayload struct {
	Fine int64  `json:"fine" validate:"gte=0"`
	Note string `json:"note"`
}

// loanView pairs a loan with the advisory late fee so the approver sees the
// suggested amount without it being auto-applied.
type loanView struct {
	Loan          Loan  `json:"loan"`
	SuggestedFine int64 `json:"suggested_fine"`
}

type listResponse struct {
	Loans      []loanView        `json:"loans"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	viewer := authz.IdentityFromContext(r.Context())
	l, err := h.service.Request(r.Context(), viewer.UserID, payload.BookID, payload.DurationDays)
	if err != nil {
		h.respondErr(w, "request loan", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(*l))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{}
	if v, err := strconv.ParseInt(q.Get("borrower_id"), 10, 64); err == nil {
		filter.BorrowerID = v
	}
	if v, err := strconv.ParseInt(q.Get("book_id"), 10, 64); err == nil {
		filter.BookID = v
	}
	if status := Status(q.Get("status")); status != "" {
		if !status.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
			return
		}
		filter.Status = status
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil {
		filter.PerPage = v
	}

	viewer := authz.IdentityFromContext(r.Context())
	loans, page, err := h.service.List(r.Context(), viewer, filter)
	if err != nil {
		h.respondErr(w, "list loans", err)
		return
	}
	views := make([]loanView, 0, len(loans))
	for _, l := range loans {
		views = append(views, h.view(l))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Loans: views, Pagination: page})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	viewer := authz.IdentityFromContext(r.Context())
	l, err := h.service.Get(r.Context(), viewer, id)
	if err != nil {
		h.respondErr(w, "get loan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(*l))
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
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
	actor := authz.IdentityFromContext(r.Context())
	l, err := h.service.Decide(r.Context(), id, payload.Action == "approve", payload.Note, actor)
	if err != nil {
		h.respondErr(w, "decide loan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(*l))
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid loan id")
		return
	}
	var payload returnPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	l, err := h.service.Return(r.Context(), id, payload.Fine, payload.Note, actor)
	if err != nil {
		h.respondErr(w, "return loan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(*l))
}

func (h *Handler) view(l Loan) loanView {
	return loanView{Loan: l, SuggestedFine: h.service.SuggestedFine(l)}
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "loan or book not found")
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
