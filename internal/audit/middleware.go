package audit

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
)

// Middleware records an entry for every request passing through Audit.
type Middleware struct {
	Recorder *Recorder
}

// Audit wraps a route, including its authorization guard, and records the
// declared actions once the response status is known.
func (m Middleware) Audit(actions ...authz.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if m.Recorder == nil {
				return
			}
			m.Recorder.Record(r.Context(), NewEntry(r, ww.Status(), chi.URLParam(r, authz.WorkspaceParam), actions...))
		})
	}
}

// NewEntry describes a finished request. A zero status counts as 200. A
// workspace id that is not a UUID is left out so the rejected attempt can
// still be stored.
func NewEntry(r *http.Request, status int, workspaceID string, actions ...authz.Action) Entry {
	if status == 0 {
		status = http.StatusOK
	}
	if httpx.ValidateID(authz.WorkspaceParam, workspaceID) != nil {
		workspaceID = ""
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	e := Entry{
		Actions:      names,
		IsSuccessful: status == http.StatusSwitchingProtocols || (status >= 200 && status < 300),
		WorkspaceID:  workspaceID,
		Method:       r.Method,
		Path:         r.URL.Path,
		Status:       status,
		UserAgent:    r.UserAgent(),
		IP:           clientIP(r),
	}
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		e.UserID = p.UserID
	}
	return e
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
