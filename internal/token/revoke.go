package token

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore keeps a redis deny-list of token IDs. Entries expire with
// the token itself, so the list never needs housekeeping.
type RevocationStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRevocationStore constructs a RevocationStore.
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client, now: time.Now}
}

// Revoke marks the token as unusable until it would have expired anyway.
func (s *RevocationStore) Revoke(ctx context.Context, claims *Claims) error {
	if s == nil || s.client == nil {
		return errors.New("token: revocation store not initialised")
	}
	if claims == nil || claims.TokenID == "" {
		return errors.New("token: claims with token id required")
	}
	remaining := claims.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokeKey(claims.TokenID), "1", remaining).Err()
}

// IsRevoked reports whether the token ID is on the deny-list.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if s == nil || s.client == nil || tokenID == "" {
		return false, nil
	}
	_, err := s.client.Get(ctx, revokeKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func revokeKey(id string) string {
	return "token:revoked:" + id
}
