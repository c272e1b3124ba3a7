package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
)

// WorkspaceParam is the chi route parameter carrying the workspace id.
const WorkspaceParam = "workspaceID"

type decisionContextKey struct{}

// ContextWithDecision stores the access decision for downstream handlers.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext returns the decision made by the route guard.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// Middleware guards HTTP routes with access checks.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require checks the actions application-wide.
func (m Middleware) Require(actions ...Action) func(http.Handler) http.Handler {
	return m.guard(NewActionSet(actions...), func(*http.Request) string { return "" })
}

// RequireInWorkspace checks the actions inside the workspace named by the
// route's WorkspaceParam.
func (m Middleware) RequireInWorkspace(actions ...Action) func(http.Handler) http.Handler {
	return m.guard(NewActionSet(actions...), func(r *http.Request) string {
		return chi.URLParam(r, WorkspaceParam)
	})
}

// RequireAdmin lets through only requests whose earlier guard decision was
// made on an admin grant.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, ok := DecisionFromContext(r.Context())
			if !ok || !d.IsAdmin {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerIsAdmin reports whether the guard decision stored on ctx was made on
// an admin grant. On application-wide routes only super admins qualify.
func CallerIsAdmin(ctx context.Context) bool {
	d, ok := DecisionFromContext(ctx)
	return ok && d.IsAdmin
}

// ProtectSuperAdmins refuses writes to the account named by UserParam when it
// belongs to a super admin and the caller is not one. Reads pass. It runs
// after Require.
func (m Middleware) ProtectSuperAdmins() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || CallerIsAdmin(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			target := chi.URLParam(r, UserParam)
			if httpx.ValidateID(UserParam, target) != nil {
				next.ServeHTTP(w, r)
				return
			}
			doc, err := m.Service.Document(r.Context(), target)
			switch {
			case errors.Is(err, ErrPermissionsNotFound):
			case err != nil:
				principal, _ := shared.PrincipalFromContext(r.Context())
				m.fail(w, err, principal.UserID, "")
				return
			case doc.IsSuperAdmin():
				httpx.RespondError(w, ErrSuperAdminRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) guard(required ActionSet, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			workspaceID := scope(r)
			if workspaceID != "" {
				if err := httpx.ValidateID(WorkspaceParam, workspaceID); err != nil {
					httpx.RespondError(w, err)
					return
				}
			}
			decision, err := m.Service.Can(r.Context(), principal.UserID, required, workspaceID)
			if err != nil {
				m.fail(w, err, principal.UserID, workspaceID)
				return
			}
			if !decision.Granted {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithDecision(r.Context(), decision)))
		})
	}
}

func (m Middleware) fail(w http.ResponseWriter, err error, userID, workspaceID string) {
	if errors.Is(err, ErrWorkspaceNotFound) {
		httpx.RespondError(w, err)
		return
	}
	if m.Logger != nil {
		m.Logger.Error("authz check",
			slog.String("user_id", userID),
			slog.String("workspace_id", workspaceID),
			slog.Any("error", err),
		)
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
