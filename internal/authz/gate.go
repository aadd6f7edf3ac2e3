package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pustakalab/pustaka/internal/platform/httpx"
	"github.com/pustakalab/pustaka/internal/token"
)

// Verifier validates a raw token and returns its claims, or nil.
type Verifier interface {
	Verify(raw string) *token.Claims
}

// Revocations checks whether a token ID has been revoked.
type Revocations interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Gate resolves identities from bearer credentials and enforces allow-lists.
type Gate struct {
	tokens  Verifier
	revoked Revocations
	logger  *slog.Logger
}

// NewGate constructs a Gate. revoked may be nil when revocation is disabled.
func NewGate(tokens Verifier, revoked Revocations, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{tokens: tokens, revoked: revoked, logger: logger}
}

// Resolve determines the caller's identity. A missing, malformed, expired or
// revoked token degrades to the anonymous visitor identity, never an error,
// so public reads keep working for everyone while writes stay gated.
func (g *Gate) Resolve(r *http.Request) Identity {
	raw := bearerToken(r)
	if raw == "" {
		return Visitor()
	}
	claims := g.tokens.Verify(raw)
	if claims == nil {
		return Visitor()
	}
	if g.revoked != nil {
		revoked, err := g.revoked.IsRevoked(r.Context(), claims.TokenID)
		if err != nil {
			// Fail closed: when the revocation store is unreachable every
			// authenticated caller degrades to visitor until it recovers.
			// A revoked token staying usable is worse than a full lockout.
			g.logger.Error("revocation check failed", slog.Any("error", err))
			return Visitor()
		}
		if revoked {
			g.logger.Debug("revoked token presented", slog.Int64("user_id", claims.UserID))
			return Visitor()
		}
	}
	return Identity{UserID: claims.UserID, Role: ParseRole(claims.Role), TokenID: claims.TokenID}
}

// WithIdentity resolves the caller once per request and stores the identity
// in the request context for downstream handlers.
func (g *Gate) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithIdentity(r.Context(), g.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require permits the request only when the resolved role is in the
// allow-list. Every mutating route must declare its roles explicitly; there
// is no implicit admin bypass.
func (g *Gate) Require(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if _, ok := allowed[id.Role]; !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "role not permitted for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	// Browser clients store the token in a cookie.
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}
