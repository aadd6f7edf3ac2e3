package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/shared"
)

// Service wraps account business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Role     authz.Role
}

// Register creates an account. Self-registration always yields a member;
// only an admin actor can create staf or admin accounts.
func (s *Service) Register(ctx context.Context, actor authz.Identity, input RegisterInput) (*User, error) {
	role := authz.RoleMember
	if input.Role == authz.RoleStaf || input.Role == authz.RoleAdmin {
		if actor.Role != authz.RoleAdmin {
			role = authz.RoleMember
		} else {
			role = input.Role
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Name:         strings.TrimSpace(input.Name),
		PasswordHash: string(hash),
		Role:         string(role),
		IsActive:     true,
	}
	id, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	user.ID = id
	return user, nil
}

// Authenticate validates email/password credentials. Unknown email, wrong
// password and inactive account all map to the same error so callers cannot
// probe which addresses exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}
