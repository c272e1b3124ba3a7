package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
)

// ErrInvalidToken is returned for unknown, expired or revoked tokens.
var ErrInvalidToken = fmt.Errorf("%w: invalid or expired token", httpx.ErrUnauthorized)

const tokenBytes = 32

// TokenStore keeps opaque bearer tokens in Redis. Only a SHA-256 digest of
// each token is stored; a per-user set indexes live tokens for revocation.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type tokenRecord struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Issued is a freshly minted token.
type Issued struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenStore{client: client, ttl: ttl, prefix: "auth:token:"}
}

// TTL exposes the configured token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token for the principal.
func (s *TokenStore) Issue(ctx context.Context, p shared.Principal) (Issued, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return Issued{}, fmt.Errorf("auth: generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	data, err := json.Marshal(tokenRecord{UserID: p.UserID, Email: p.Email})
	if err != nil {
		return Issued{}, err
	}
	digest := s.digest(token)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(digest), data, s.ttl)
	pipe.SAdd(ctx, s.userKey(p.UserID), digest)
	pipe.Expire(ctx, s.userKey(p.UserID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Issued{}, fmt.Errorf("auth: store token: %w", err)
	}
	return Issued{Token: token, ExpiresAt: time.Now().Add(s.ttl).UTC()}, nil
}

// Resolve returns the principal a token was issued to.
func (s *TokenStore) Resolve(ctx context.Context, token string) (shared.Principal, error) {
	if token == "" {
		return shared.Principal{}, ErrInvalidToken
	}
	data, err := s.client.Get(ctx, s.tokenKey(s.digest(token))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return shared.Principal{}, ErrInvalidToken
		}
		return shared.Principal{}, fmt.Errorf("auth: resolve token: %w", err)
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return shared.Principal{}, fmt.Errorf("auth: decode token: %w", err)
	}
	return shared.Principal{UserID: rec.UserID, Email: rec.Email}, nil
}

// Revoke invalidates a single token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	digest := s.digest(token)
	p, err := s.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil
		}
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(digest))
	pipe.SRem(ctx, s.userKey(p.UserID), digest)
	_, err = pipe.Exec(ctx)
	return err
}

// RevokeUser invalidates every token issued to userID.
func (s *TokenStore) RevokeUser(ctx context.Context, userID string) error {
	digests, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("auth: list user tokens: %w", err)
	}
	keys := make([]string, 0, len(digests)+1)
	for _, d := range digests {
		keys = append(keys, s.tokenKey(d))
	}
	keys = append(keys, s.userKey(userID))
	return s.client.Del(ctx, keys...).Err()
}

func (s *TokenStore) digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *TokenStore) tokenKey(digest string) string {
	return s.prefix + digest
}

func (s *TokenStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}
