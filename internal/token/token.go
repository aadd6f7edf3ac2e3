// Package token issues and verifies signed, time-limited identity tokens.
package token

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the token lifetime used when the caller does not override it.
const DefaultTTL = 2 * time.Hour

// ErrNoSecret indicates the service was constructed without a signing secret.
var ErrNoSecret = errors.New("token: signing secret not configured")

// Claims is the verified identity carried by a token.
type Claims struct {
	UserID    int64
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 identity tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. Fails when secret is empty so a
// misconfigured deployment dies at startup instead of signing with "".
func NewService(secret string, ttl time.Duration, logger *slog.Logger) (*Service, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{secret: []byte(secret), ttl: ttl, logger: logger, now: time.Now}, nil
}

// WithClock overrides the time source. Tests use this to pin expiry checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TTL exposes the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the given subject and role. A non-positive ttl
// falls back to the service default.
func (s *Service) Issue(userID int64, role string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	issued := s.now()
	claims := jwtClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
			Issuer:    "pustaka",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the decoded claims, or nil for any malformed, expired or
// badly signed token. Callers must treat nil as "unauthenticated", never as a
// hard failure; the distinct reason is only logged.
func (s *Service) Verify(raw string) *Claims {
	parsed, err := jwt.ParseWithClaims(raw, &jwtClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		s.logger.Debug("token rejected", slog.Any("reason", err))
		return nil
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		s.logger.Debug("token rejected", slog.String("reason", "invalid claims"))
		return nil
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		s.logger.Debug("token rejected", slog.String("reason", "non-numeric subject"))
		return nil
	}
	out := &Claims{
		UserID:  userID,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out
}
