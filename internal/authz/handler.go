package authz

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agoracloud/agora/internal/platform/httpx"
)

// UserParam is the chi route parameter carrying the target user id.
const UserParam = "userID"

// Handler exposes permission administration endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type permissionsRequest struct {
	Role        string   `json:"role" validate:"required"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required"`
}

type documentResponse struct {
	UserID     string           `json:"userId"`
	Global     Grant            `json:"global"`
	Workspaces map[string]Grant `json:"workspaces"`
}

// GetUserPermissions returns the target user's whole document.
func (h *Handler) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, UserParam)
	if err := httpx.ValidateID(UserParam, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Document(r.Context(), userID)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse{UserID: doc.UserID, Global: doc.Global, Workspaces: doc.Workspaces})
}

// PutUserPermissions replaces the target user's application-wide grant.
func (h *Handler) PutUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, UserParam)
	if err := httpx.ValidateID(UserParam, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := ParseGlobalRole(req.Role)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if role == RoleSuperAdmin && !CallerIsAdmin(r.Context()) {
		httpx.RespondError(w, ErrSuperAdminRequired)
		return
	}
	actions, err := parseActions(req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.SetGlobalPermissions(r.Context(), userID, role, actions)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc.Global)
}

// PutWorkspaceUserPermissions replaces a member's grant inside the routed workspace.
func (h *Handler) PutWorkspaceUserPermissions(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, WorkspaceParam)
	userID := chi.URLParam(r, UserParam)
	if err := httpx.ValidateID(UserParam, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := ParseWorkspaceRole(req.Role)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	actions, err := parseActions(req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.service.SetWorkspacePermissions(r.Context(), userID, workspaceID, role, actions)
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPermissionsNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: user", httpx.ErrNotFound))
	case errors.Is(err, ErrUserNotInWorkspace):
		httpx.RespondError(w, fmt.Errorf("%w: user is not a member of the workspace", httpx.ErrNotFound))
	default:
		h.logger.Error("authz permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseActions(raw []string) (ActionSet, error) {
	set := make(ActionSet, len(raw))
	for _, item := range raw {
		a, err := ParseAction(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
		}
		set[a] = struct{}{}
	}
	return set, nil
}
