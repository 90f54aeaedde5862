package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-portal/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
)

// Guard builds authorization middleware and resolves the caller.
type Guard interface {
	RequirePermission(permission string) func(http.Handler) http.Handler
	CurrentUserID(r *http.Request) (int64, error)
}

// AuditRecorder persists administrative changes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler exposes role membership administration over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Guard
	audit     AuditRecorder
	validator *validator.Validate
}

// NewHandler constructs the RBAC handler. audit may be nil.
func NewHandler(logger *slog.Logger, service *Service, guard Guard, audit AuditRecorder) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, audit: audit, validator: validator.New()}
}

// MountAdminRoutes registers /admin/users/{userID}/... routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermViewRoles))
		r.Get("/{userID}/roles", h.listRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermManageUsers))
		r.Put("/{userID}/roles", h.syncRoles)
		r.Post("/{userID}/roles/{roleID}", h.assignRole)
		r.Delete("/{userID}/roles/{roleID}", h.removeRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermViewPermissions))
		r.Get("/{userID}/permissions", h.checkPermissions)
	})
}

// MountSelfRoutes registers /me routes for the calling user.
func (h *Handler) MountSelfRoutes(r chi.Router) {
	r.Get("/permissions", h.myPermissions)
	r.Get("/permissions/{name}", h.myPermission)
}

type syncRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"omitempty,dive,gt=0"`
}

type roleView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.service.RolesForUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, "list user roles", err)
		return
	}
	views := make([]roleView, 0, len(grants))
	for _, g := range grants {
		perms := make([]string, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			perms = append(perms, p.Name)
		}
		views = append(views, roleView{ID: g.Role.ID, Name: g.Role.Name, Description: g.Role.Description, Permissions: perms})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": views})
}

func (h *Handler) syncRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req syncRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
		return
	}
	if err := h.service.SynchronizeRoles(r.Context(), userID, req.RoleIDs); err != nil {
		h.respondError(w, "synchronize roles", err)
		return
	}
	h.record(r, shared.AuditRolesSynchronized, userID, map[string]any{"role_ids": NewIDSet(req.RoleIDs...).Sorted()})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.membershipParams(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, roleID); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	h.record(r, shared.AuditRoleAssigned, userID, map[string]any{"role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.membershipParams(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID); err != nil {
		h.respondError(w, "remove role", err)
		return
	}
	h.record(r, shared.AuditRoleRemoved, userID, map[string]any{"role_id": roleID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	names := splitNames(r.URL.Query()["name"])
	if len(names) == 0 {
		perms, err := h.service.EffectivePermissions(r.Context(), userID)
		if err != nil {
			h.respondError(w, "effective permissions", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": perms})
		return
	}
	result, err := h.service.CheckPermissions(r.Context(), userID, names)
	if err != nil {
		h.respondError(w, "check permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "granted": result})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) myPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	granted, err := h.service.UserHasPermission(r.Context(), userID, name)
	if err != nil {
		h.respondError(w, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": name, "granted": granted})
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := h.guard.CurrentUserID(r)
	if err != nil {
		h.logger.Info("caller identity unresolved", slog.Any("error", err))
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnauthorized, err))
		return 0, false
	}
	return userID, true
}

// record writes an audit entry for a membership change on userID. Failures are
// logged; the change itself has already been committed.
func (h *Handler) record(r *http.Request, action string, userID int64, meta map[string]any) {
	if h.audit == nil {
		return
	}
	actorID, err := h.guard.CurrentUserID(r)
	if err != nil {
		actorID = 0
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	}
	if err := h.audit.Record(r.Context(), entry); err != nil {
		h.logger.WarnContext(r.Context(), "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) membershipParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return userID, roleID, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.Classify(httpx.ErrNotFound, err))
	case errors.Is(err, ErrConcurrentUpdate):
		httpx.RespondError(w, httpx.Classify(httpx.ErrConflict, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// splitNames accepts repeated and comma separated ?name= values.
func splitNames(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
