package loan

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/token"
)

func newTestRouter(t *testing.T, repo *memoryRepo) (http.Handler, *token.Service) {
	t.Helper()
	tokens, err := token.NewService("test-secret", time.Hour, nil)
	require.NoError(t, err)
	gate := authz.NewGate(tokens, nil, nil)
	handler := NewHandler(nil, NewService(repo, nil, nil, ServiceConfig{FineRatePerDay: 1000}), gate)

	r := chi.NewRouter()
	r.Use(gate.WithIdentity)
	handler.MountRoutes(r)
	return r, tokens
}

func TestListFiltersByBook(t *testing.T) {
	repo := newMemoryRepo()
	repo.loans[1] = Loan{ID: 1, BorrowerID: 7, BookID: 2, Status: StatusDipinjam, DueDate: time.Now().Add(24 * time.Hour)}
	repo.loans[2] = Loan{ID: 2, BorrowerID: 8, BookID: 3, Status: StatusDipinjam, DueDate: time.Now().Add(24 * time.Hour)}

	router, tokens := newTestRouter(t, repo)
	staf, err := tokens.Issue(99, "staf", 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/loans?book_id=2", nil)
	req.Header.Set("Authorization", "Bearer "+staf)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Loans, 1)
	require.Equal(t, int64(2), body.Loans[0].Loan.BookID)
}
