package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoracloud/agora/internal/events"
	"github.com/agoracloud/agora/internal/shared"
	"github.com/agoracloud/agora/internal/users"
	_ "github.com/agoracloud/agora/testing"
)

func newTestStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStore(client, time.Hour), mr
}

type stubAuthenticator map[string]*users.User

func (s stubAuthenticator) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	u, ok := s[email]
	if !ok || password != "correct-horse" {
		return nil, users.ErrInvalidCredentials
	}
	return u, nil
}

func TestTokenStoreLifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	alice := shared.Principal{UserID: "u1", Email: "alice@example.com"}

	issued, err := store.Issue(ctx, alice)
	require.NoError(t, err)
	assert.False(t, mr.Exists("auth:token:"+issued.Token), "raw tokens are never stored")

	got, err := store.Resolve(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	require.NoError(t, store.Revoke(ctx, issued.Token))
	_, err = store.Resolve(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, store.Revoke(ctx, issued.Token))
}

func TestTokenStoreExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	issued, err := store.Issue(ctx, shared.Principal{UserID: "u1"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Resolve(ctx, issued.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestConsumerRevokesDeletedUserTokens(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	first, err := store.Issue(ctx, shared.Principal{UserID: "u1"})
	require.NoError(t, err)
	second, err := store.Issue(ctx, shared.Principal{UserID: "u1"})
	require.NoError(t, err)
	other, err := store.Issue(ctx, shared.Principal{UserID: "u2"})
	require.NoError(t, err)

	d := events.NewDispatcher(nil, nil, nil)
	NewConsumer(store, nil).Register(d)
	env, err := events.NewUserDeleted("u1")
	require.NoError(t, err)
	for _, sub := range d.Subscriptions(events.UserDeleted) {
		require.NoError(t, d.Deliver(ctx, sub.Name, env))
	}

	for _, tok := range []string{first.Token, second.Token} {
		_, err := store.Resolve(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	_, err = store.Resolve(ctx, other.Token)
	assert.NoError(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie"})
	assert.Empty(t, TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie"})
	assert.Equal(t, "cookie", TokenFromRequest(req))
}

func TestLoginThenAuthenticatedRequest(t *testing.T) {
	store, _ := newTestStore(t)
	h := NewHandler(nil, stubAuthenticator{"alice@example.com": {ID: "u1", Email: "alice@example.com"}}, store, false)
	r := chi.NewRouter()
	r.Route("/api/auth", h.MountRoutes)
	r.With(Middleware{Tokens: store}.Authenticate).Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
		p, _ := shared.PrincipalFromContext(r.Context())
		_, _ = w.Write([]byte(p.UserID))
	})

	login := func(password string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": password})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, login("wrong").Code)

	rec := login("correct-horse")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	require.NotEmpty(t, resp.Token)

	me := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	me.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, me)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	logout := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	logout.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, logout)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, me)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
