package workspaces

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/platform/httpx"
	"github.com/agoracloud/agora/internal/shared"
)

// Handler exposes workspace endpoints.
type Handler struct {
	service     *Service
	guard       authz.Middleware
	audit       audit.Middleware
	permissions *authz.Handler
	logger      *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, guard authz.Middleware, audited audit.Middleware, permissions *authz.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, guard: guard, audit: audited, permissions: permissions, logger: logger}
}

// MountRoutes registers the workspace routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.audit.Audit(authz.ReadWorkspace), h.guard.Require(authz.ReadWorkspace)).Get("/", h.list)
	r.With(h.audit.Audit(authz.CreateWorkspace), h.guard.Require(authz.CreateWorkspace)).Post("/", h.create)
	r.Route("/{"+authz.WorkspaceParam+"}", func(r chi.Router) {
		r.With(h.audit.Audit(authz.ReadWorkspace), h.guard.RequireInWorkspace(authz.ReadWorkspace)).Get("/", h.get)
		r.With(h.audit.Audit(authz.UpdateWorkspace), h.guard.RequireInWorkspace(authz.UpdateWorkspace)).Patch("/", h.rename)
		r.With(h.audit.Audit(authz.DeleteWorkspace), h.guard.RequireInWorkspace(authz.DeleteWorkspace)).Delete("/", h.delete)
		r.With(h.audit.Audit(authz.UpdateWorkspace), h.guard.RequireInWorkspace(authz.UpdateWorkspace)).Post("/users", h.addUser)
		r.With(h.audit.Audit(authz.UpdateWorkspace), h.guard.RequireInWorkspace(authz.UpdateWorkspace)).Delete("/users/{"+authz.UserParam+"}", h.removeUser)
		if h.permissions != nil {
			r.With(h.audit.Audit(authz.UpdateWorkspace), h.guard.RequireInWorkspace(authz.UpdateWorkspace), h.guard.RequireAdmin()).
				Put("/users/{"+authz.UserParam+"}/permissions", h.permissions.PutWorkspaceUserPermissions)
		}
	})
}

type createRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type addUserRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	list, err := h.service.ListForUser(r.Context(), principal.UserID)
	if err != nil {
		h.fail(w, "list workspaces", err)
		return
	}
	if list == nil {
		list = []Workspace{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ws, err := h.service.Create(r.Context(), principal.UserID, req.Name)
	if err != nil {
		h.fail(w, "create workspace", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ws)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ws, err := h.service.Get(r.Context(), chi.URLParam(r, authz.WorkspaceParam))
	if err != nil {
		h.fail(w, "get workspace", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ws)
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ws, err := h.service.Rename(r.Context(), chi.URLParam(r, authz.WorkspaceParam), req.Name)
	if err != nil {
		h.fail(w, "rename workspace", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ws)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, authz.WorkspaceParam)); err != nil {
		h.fail(w, "delete workspace", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ws, err := h.service.AddUserByEmail(r.Context(), chi.URLParam(r, authz.WorkspaceParam), req.Email)
	if err != nil {
		h.fail(w, "add workspace user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ws)
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, authz.UserParam)
	if err := httpx.ValidateID(authz.UserParam, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ws, err := h.service.RemoveUser(r.Context(), chi.URLParam(r, authz.WorkspaceParam), userID)
	if err != nil {
		h.fail(w, "remove workspace user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ws)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(context.Background(), level, msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
