package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/pustakalab/pustaka/internal/auth"
	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/shared"
	"github.com/pustakalab/pustaka/internal/token"
)

type stubRepo struct {
	user    *auth.User
	created *auth.User
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) Create(ctx context.Context, user *auth.User) (int64, error) {
	s.created = user
	return 10, nil
}

func newRouter(t *testing.T, repo auth.Repository) (http.Handler, *token.Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tokens, err := token.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	revoked := token.NewRevocationStore(client)
	gate := authz.NewGate(tokens, revoked, nil)

	handler := auth.NewHandler(nil, auth.NewService(repo), tokens, revoked)
	r := chi.NewRouter()
	r.Use(gate.WithIdentity)
	r.Route("/auth", handler.MountRoutes)
	return r, tokens
}

func TestLoginIssuesToken(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "user@test.local", PasswordHash: string(hashed), Role: "member", IsActive: true}}
	router, tokens := newRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"correctpass"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := res.Body.String()
	if !strings.Contains(body, `"token"`) {
		t.Fatalf("expected token in response: %s", body)
	}

	// The issued token must verify and carry the account's role.
	start := strings.Index(body, `"token":"`) + len(`"token":"`)
	end := strings.Index(body[start:], `"`)
	claims := tokens.Verify(body[start : start+end])
	if claims == nil {
		t.Fatalf("issued token does not verify")
	}
	if claims.UserID != 1 || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "user@test.local", PasswordHash: string(hashed), Role: "member", IsActive: true}}
	router, _ := newRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"user@test.local","password":"wrongpass"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestSelfRegistrationForcesMemberRole(t *testing.T) {
	repo := &stubRepo{}
	router, _ := newRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"new@test.local","name":"New User","password":"secret123","role":"admin"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if repo.created == nil || repo.created.Role != "member" {
		t.Fatalf("anonymous registration must create a member, got %+v", repo.created)
	}
}

func TestAdminCanRegisterStaf(t *testing.T) {
	repo := &stubRepo{}
	router, tokens := newRouter(t, repo)

	adminToken, err := tokens.Issue(99, "admin", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"staf@test.local","name":"Petugas","password":"secret123","role":"staf"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if repo.created == nil || repo.created.Role != "staf" {
		t.Fatalf("admin should create staf, got %+v", repo.created)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.DefaultCost)
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "user@test.local", PasswordHash: string(hashed), Role: "member", IsActive: true}}
	router, tokens := newRouter(t, repo)

	raw, err := tokens.Issue(1, "member", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	// Second logout with the same token is treated as anonymous.
	res = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	router.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revocation, got %d", res.Code)
	}
}
