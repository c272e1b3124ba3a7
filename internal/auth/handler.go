package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
	"github.com/agoracloud/agora/internal/users"
)

// Authenticator verifies credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*users.User, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger       *slog.Logger
	users        Authenticator
	tokens       *TokenStore
	secureCookie bool
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, authenticator Authenticator, tokens *TokenStore, secureCookie bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, users: authenticator, tokens: tokens, secureCookie: secureCookie}
}

// MountRoutes registers auth routes on provided router. Login is public and
// rate limited per client address.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", h.handleLogin)
	r.With(Middleware{Tokens: h.tokens, Logger: h.logger}.Authenticate).Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Issued
	UserID string `json:"userId"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login failed", slog.String("email", req.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	issued, err := h.tokens.Issue(r.Context(), shared.Principal{UserID: user.ID, Email: user.Email})
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    issued.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
		Expires:  issued.ExpiresAt,
	})
	httpx.JSON(w, http.StatusOK, loginResponse{Issued: issued, UserID: user.ID})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Revoke(r.Context(), TokenFromRequest(r)); err != nil {
		h.logger.Error("revoke token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
