package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-portal/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-portal/internal/rbac"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
)

// Guard builds authorization middleware for a permission and resolves the caller.
type Guard interface {
	RequirePermission(permission string) func(http.Handler) http.Handler
	CurrentUserID(r *http.Request) (int64, error)
}

// AuditRecorder persists catalog changes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler manages role catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   Guard
	audit   AuditRecorder
}

// NewHandler builds Handler instance. audit may be nil.
func NewHandler(logger *slog.Logger, service *Service, guard Guard, audit AuditRecorder) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, audit: audit}
}

// MountRoleRoutes registers /admin/roles routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermViewRoles))
		r.Get("/", h.listRoles)
		r.Get("/{roleID}/permissions", h.rolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermManageRoles))
		r.Post("/", h.createRole)
		r.Put("/{roleID}/permissions/{permissionID}", h.grantPermission)
		r.Delete("/{roleID}/permissions/{permissionID}", h.revokePermission)
	})
}

// MountPermissionRoutes registers /admin/permissions routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.With(h.guard.RequirePermission(shared.PermViewRoles)).Get("/", h.listPermissions)
	r.With(h.guard.RequirePermission(shared.PermManageRoles)).Post("/", h.createPermission)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in CreateRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), in)
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	h.record(r, shared.AuditRoleCreated, "role", role.ID, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.service.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.respondError(w, "role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": grants.Role, "permissions": grants.Permissions})
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := grantParams(w, r)
	if !ok {
		return
	}
	changed, err := h.service.GrantPermission(r.Context(), roleID, permID)
	if err != nil {
		h.respondError(w, "grant permission", err)
		return
	}
	if changed {
		h.record(r, shared.AuditPermissionGranted, "role", roleID, map[string]any{"permission_id": permID})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := grantParams(w, r)
	if !ok {
		return
	}
	changed, err := h.service.RevokePermission(r.Context(), roleID, permID)
	if err != nil {
		h.respondError(w, "revoke permission", err)
		return
	}
	if changed {
		h.record(r, shared.AuditPermissionRevoked, "role", roleID, map[string]any{"permission_id": permID})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var in CreatePermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), in)
	if err != nil {
		h.respondError(w, "create permission", err)
		return
	}
	h.record(r, shared.AuditPermissionCreated, "permission", perm.ID, map[string]any{"name": perm.Name})
	httpx.JSON(w, http.StatusCreated, perm)
}

func grantParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	permID, err := httpx.IDParam(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return roleID, permID, true
}

func (h *Handler) record(r *http.Request, action, entity string, id int64, meta map[string]any) {
	if h.audit == nil {
		return
	}
	actorID, err := h.guard.CurrentUserID(r)
	if err != nil {
		actorID = 0
	}
	entry := shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}
	if err := h.audit.Record(r.Context(), entry); err != nil {
		h.logger.WarnContext(r.Context(), "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
	case errors.Is(err, ErrDuplicateName):
		httpx.RespondError(w, httpx.Classify(httpx.ErrDuplicate, err))
	case errors.Is(err, rbac.ErrNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
