package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
)

// CookieName carries the token for browser clients, which cannot set headers
// on WebSocket upgrades.
const CookieName = "agora_token"

// Middleware authenticates requests and stores the principal on the context.
type Middleware struct {
	Tokens *TokenStore
	Logger *slog.Logger
}

// Authenticate rejects requests without a valid token with 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		p, err := m.Tokens.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && m.Logger != nil {
				m.Logger.Error("resolve token", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

// TokenFromRequest reads a bearer token from the Authorization header,
// falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
