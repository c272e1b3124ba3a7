package users

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agoracloud/agora/internal/audit"
	"github.com/agoracloud/agora/internal/authz"
	"github.com/agoracloud/agora/internal/platform/httpx"
)

// Handler exposes user administration endpoints.
type Handler struct {
	service     *Service
	guard       authz.Middleware
	audit       audit.Middleware
	permissions *authz.Handler
	logger      *slog.Logger
}

// NewHandler builds handler.
func NewHandler(service *Service, guard authz.Middleware, audited audit.Middleware, permissions *authz.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, guard: guard, audit: audited, permissions: permissions, logger: logger}
}

// MountRoutes registers user routes. Every route requires users:manage.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.audit.Audit(authz.ManageUsers), h.guard.Require(authz.ManageUsers))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{"+authz.UserParam+"}", func(r chi.Router) {
			r.Use(h.guard.ProtectSuperAdmins())
			r.Get("/", h.get)
			r.Delete("/", h.delete)
			if h.permissions != nil {
				r.Get("/permissions", h.permissions.GetUserPermissions)
				r.Put("/permissions", h.permissions.PutUserPermissions)
			}
		})
	})
}

type createRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=128"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=User SuperAdmin"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	if list == nil {
		list = []User{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Role == RoleSuperAdmin && !authz.CallerIsAdmin(r.Context()) {
		httpx.RespondError(w, authz.ErrSuperAdminRequired)
		return
	}
	u, err := h.service.Create(r.Context(), req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, authz.UserParam)
	if err := httpx.ValidateID(authz.UserParam, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, authz.UserParam)
	if err := httpx.ValidateID(authz.UserParam, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(context.Background(), level, msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
