package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-portal/internal/shared"
)

// stubGuard admits requests whose X-Test-Permissions header lists the permission.
type stubGuard struct {
	userID int64
	err    error
}

func (g stubGuard) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range strings.Split(r.Header.Get("X-Test-Permissions"), ",") {
				if p == permission {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (g stubGuard) CurrentUserID(*http.Request) (int64, error) {
	return g.userID, g.err
}

type auditSpy struct {
	entries []shared.AuditLog
	err     error
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func newTestRouter(t *testing.T, guard stubGuard) (http.Handler, *fixture) {
	t.Helper()
	r, f, _ := newAuditedRouter(t, guard)
	return r, f
}

func newAuditedRouter(t *testing.T, guard stubGuard) (http.Handler, *fixture, *auditSpy) {
	t.Helper()
	f := newFixture(t, map[string][]string{
		"Editor": {"CanEditContent"},
		"Admin":  {"ManageUsers", "ViewRoles"},
	})
	spy := &auditSpy{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service, guard, spy)
	r := chi.NewRouter()
	r.Route("/admin/users", h.MountAdminRoutes)
	r.Route("/me", h.MountSelfRoutes)
	return r, f, spy
}

func doRequest(h http.Handler, method, target, body, perms string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if perms != "" {
		req.Header.Set("X-Test-Permissions", perms)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerListRoles(t *testing.T) {
	router, f := newTestRouter(t, stubGuard{})
	f.addUser(t, 42, "Editor", "Admin")

	rr := doRequest(router, http.MethodGet, "/admin/users/42/roles", "", "ViewRoles")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		UserID int64 `json:"user_id"`
		Roles  []struct {
			Name        string   `json:"name"`
			Permissions []string `json:"permissions"`
		} `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, int64(42), body.UserID)
	require.Len(t, body.Roles, 2)
	assert.Equal(t, "Admin", body.Roles[0].Name)
	assert.Equal(t, []string{"ManageUsers", "ViewRoles"}, body.Roles[0].Permissions)
	assert.Equal(t, "Editor", body.Roles[1].Name)
}

func TestHandlerRequiresPermission(t *testing.T) {
	router, f := newTestRouter(t, stubGuard{})
	f.addUser(t, 42)

	rr := doRequest(router, http.MethodGet, "/admin/users/42/roles", "", "ViewUsers")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(router, http.MethodPut, "/admin/users/42/roles", `{"role_ids":[]}`, "ViewRoles")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandlerSyncRoles(t *testing.T) {
	router, f := newTestRouter(t, stubGuard{})
	f.addUser(t, 42, "Editor")
	admin := f.roles["Admin"].ID

	body := `{"role_ids":[` + jsonInt(admin) + `]}`
	rr := doRequest(router, http.MethodPut, "/admin/users/42/roles", body, "ManageUsers")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, NewIDSet(admin).Equal(f.heldRoleIDs(t, 42)))

	rr = doRequest(router, http.MethodPut, "/admin/users/42/roles", `{"role_ids":[0]}`, "ManageUsers")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(router, http.MethodPut, "/admin/users/42/roles", `{"roles":[1]}`, "ManageUsers")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(router, http.MethodPut, "/admin/users/9999/roles", `{"role_ids":[]}`, "ManageUsers")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerAssignAndRemove(t *testing.T) {
	router, f := newTestRouter(t, stubGuard{})
	f.addUser(t, 42)
	target := "/admin/users/42/roles/" + jsonInt(f.roles["Editor"].ID)

	rr := doRequest(router, http.MethodPost, target, "", "ManageUsers")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = doRequest(router, http.MethodPost, target, "", "ManageUsers")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(router, http.MethodDelete, target, "", "ManageUsers")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = doRequest(router, http.MethodDelete, target, "", "ManageUsers")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(router, http.MethodPost, "/admin/users/42/roles/abc", "", "ManageUsers")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerAuditsMembershipChangesWithCaller(t *testing.T) {
	router, f, spy := newAuditedRouter(t, stubGuard{userID: 5})
	f.addUser(t, 42)
	editor := f.roles["Editor"].ID
	target := "/admin/users/42/roles/" + jsonInt(editor)

	require.Equal(t, http.StatusNoContent, doRequest(router, http.MethodPost, target, "", "ManageUsers").Code)
	require.Equal(t, http.StatusNoContent, doRequest(router, http.MethodDelete, target, "", "ManageUsers").Code)
	body := `{"role_ids":[` + jsonInt(editor) + `]}`
	require.Equal(t, http.StatusNoContent, doRequest(router, http.MethodPut, "/admin/users/42/roles", body, "ManageUsers").Code)

	// Rejected changes are not audited.
	require.Equal(t, http.StatusNotFound, doRequest(router, http.MethodDelete, "/admin/users/42/roles/999", "", "ManageUsers").Code)

	require.Len(t, spy.entries, 3)
	actions := []string{spy.entries[0].Action, spy.entries[1].Action, spy.entries[2].Action}
	assert.Equal(t, []string{shared.AuditRoleAssigned, shared.AuditRoleRemoved, shared.AuditRolesSynchronized}, actions)
	for _, e := range spy.entries {
		assert.Equal(t, int64(5), e.ActorID)
		assert.Equal(t, "user", e.Entity)
		assert.Equal(t, "42", e.EntityID)
	}
	assert.Equal(t, editor, spy.entries[0].Meta["role_id"])
	assert.Equal(t, []int64{editor}, spy.entries[2].Meta["role_ids"])
}

func TestHandlerAuditFailureDoesNotFailRequest(t *testing.T) {
	router, f, spy := newAuditedRouter(t, stubGuard{err: errors.New("no identity")})
	spy.err = errors.New("audit table missing")
	f.addUser(t, 42)

	rr := doRequest(router, http.MethodPost, "/admin/users/42/roles/"+jsonInt(f.roles["Editor"].ID), "", "ManageUsers")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, spy.entries, 1)
	assert.Zero(t, spy.entries[0].ActorID)
}

func TestHandlerCheckPermissions(t *testing.T) {
	router, f := newTestRouter(t, stubGuard{})
	f.addUser(t, 42, "Editor")

	rr := doRequest(router, http.MethodGet, "/admin/users/42/permissions?name=CanEditContent,ManageUsers", "", "ViewPermissions")
	require.Equal(t, http.StatusOK, rr.Code)
	var checked struct {
		Granted map[string]bool `json:"granted"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&checked))
	assert.Equal(t, map[string]bool{"CanEditContent": true, "ManageUsers": false}, checked.Granted)

	rr = doRequest(router, http.MethodGet, "/admin/users/42/permissions", "", "ViewPermissions")
	require.Equal(t, http.StatusOK, rr.Code)
	var effective struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&effective))
	assert.Equal(t, []string{"CanEditContent"}, effective.Permissions)
}

func TestHandlerSelfRoutes(t *testing.T) {
	router, f := newTestRouter(t, stubGuard{userID: 42})
	f.addUser(t, 42, "Editor")

	rr := doRequest(router, http.MethodGet, "/me/permissions", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"permissions":["CanEditContent"]}`, rr.Body.String())

	rr = doRequest(router, http.MethodGet, "/me/permissions/CanDeleteContent", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"permission":"CanDeleteContent","granted":false}`, rr.Body.String())
}

func TestHandlerSelfRoutesUnresolvedCaller(t *testing.T) {
	router, _ := newTestRouter(t, stubGuard{err: errors.New("no identity")})

	rr := doRequest(router, http.MethodGet, "/me/permissions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandlerConcurrentUpdateIsConflict(t *testing.T) {
	f := newFixture(t, map[string][]string{"Editor": nil})
	f.addUser(t, 42)
	svc := NewService(f.store, ServiceConfig{Locker: busyLocker{}})
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, stubGuard{}, nil)
	r := chi.NewRouter()
	r.Route("/admin/users", h.MountAdminRoutes)

	rr := doRequest(r, http.MethodPut, "/admin/users/42/roles", `{"role_ids":[1]}`, "ManageUsers")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, splitNames([]string{"A, B", "", "C,"}))
	assert.Empty(t, splitNames(nil))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
