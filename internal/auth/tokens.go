package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/serat-auto/backoffice/internal/shared"
)

// TokenStore keeps opaque bearer tokens in Redis.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue stores a new token for user.
func (s *TokenStore) Issue(ctx context.Context, user *User) (string, Principal, error) {
	if user == nil {
		return "", Principal{}, errors.New("auth: user required")
	}
	now := s.now()
	principal := Principal{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(principal)
	if err != nil {
		return "", Principal{}, err
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.client.Set(ctx, redisKey(token), data, s.ttl).Err(); err != nil {
		return "", Principal{}, err
	}
	return token, principal, nil
}

// Resolve looks a token up.
func (s *TokenStore) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, shared.ErrUnauthorized
	}
	payload, err := s.client.Get(ctx, redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Principal{}, shared.ErrUnauthorized
		}
		return Principal{}, err
	}
	var principal Principal
	if err := json.Unmarshal(payload, &principal); err != nil {
		return Principal{}, err
	}
	return principal, nil
}

// Revoke deletes a token. Unknown tokens are ignored.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// TTL exposes the configured token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

func redisKey(token string) string {
	return "token:" + token
}
