package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-portal/internal/auth"
	"github.com/odyssey-erp/odyssey-portal/internal/observability"
	"github.com/odyssey-erp/odyssey-portal/internal/rbac"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
	"github.com/odyssey-erp/odyssey-portal/internal/users"
	portaltest "github.com/odyssey-erp/odyssey-portal/testing"
)

// graphUsers serves users.RepositoryPort from the in-memory identity graph.
type graphUsers struct {
	store *rbac.MemoryStore
}

func (g graphUsers) toUser(u rbac.User) users.User {
	return users.User{ID: u.ID, ExternalToken: u.ExternalToken, Name: u.Name, IsActive: u.IsActive}
}

func (g graphUsers) ListUsers(ctx context.Context, limit, offset int) ([]users.User, int, error) {
	return []users.User{}, 0, nil
}

func (g graphUsers) GetByID(ctx context.Context, id int64) (users.User, error) {
	u, err := g.store.FindUserByID(ctx, id)
	if errors.Is(err, rbac.ErrNotFound) {
		return users.User{}, users.ErrNotFound
	}
	return g.toUser(u), err
}

func (g graphUsers) GetByExternalToken(ctx context.Context, token string) (users.User, error) {
	u, err := g.store.FindUserByExternalToken(ctx, token)
	if errors.Is(err, rbac.ErrNotFound) {
		return users.User{}, users.ErrNotFound
	}
	return g.toUser(u), err
}

func (g graphUsers) Create(ctx context.Context, token, name string) (users.User, error) {
	u, err := g.store.AddUser(rbac.User{ExternalToken: token, Name: name, IsActive: true})
	return g.toUser(u), err
}

func (g graphUsers) UpdateName(ctx context.Context, id int64, name string) (users.User, error) {
	return g.GetByID(ctx, id)
}

func (g graphUsers) SetActive(ctx context.Context, id int64, active bool) error { return nil }

type portal struct {
	handler http.Handler
	auth    *auth.Service
	rbac    *rbac.Service
	store   *rbac.MemoryStore
	perms   map[string]rbac.Permission
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &Config{
		AppEnv:             "test",
		AppRequestTimeout:  5 * time.Second,
		PolicyPrefix:       "Require",
		PolicySuffix:       "Permission",
		RateLimitPerMinute: 1000,
	}
	logger := portaltest.DiscardLogger()
	metrics := observability.NewMetrics()
	store := rbac.NewMemoryStore()
	rbacService := rbac.NewService(store, rbac.ServiceConfig{Logger: logger})
	userService := users.NewService(graphUsers{store: store})
	authService := auth.NewService("router-test-secret", "", userService)
	sessions := shared.NewSessionManager(client, "portal_session", time.Hour, false)
	policies := NewPolicies(cfg, logger, rbacService, userService, metrics)

	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthMiddleware: auth.NewMiddleware(logger, authService, sessions),
		AuthHandler:    auth.NewHandler(logger, authService, sessions),
		UsersHandler:   users.NewHandler(logger, userService, policies),
		RBACHandler:    rbac.NewHandler(logger, rbacService, policies, nil),
		Policies:       policies,
		Metrics:        metrics,
		Checks: map[string]HealthCheck{
			"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
	})
	return &portal{
		handler: handler,
		auth:    authService,
		rbac:    rbacService,
		store:   store,
		perms:   make(map[string]rbac.Permission),
	}
}

// seed adds a user holding one role that grants perms.
func (p *portal) seed(t *testing.T, userID int64, token string, perms ...string) {
	t.Helper()
	_, err := p.store.AddUser(rbac.User{ID: userID, ExternalToken: token, Name: "user", IsActive: true})
	require.NoError(t, err)
	role, err := p.store.AddRole("role-"+strconv.FormatInt(userID, 10), "")
	require.NoError(t, err)
	for _, name := range perms {
		perm, ok := p.perms[name]
		if !ok {
			perm, err = p.store.AddPermission(name, "")
			require.NoError(t, err)
			p.perms[name] = perm
		}
		require.NoError(t, p.store.Grant(role.ID, perm.ID))
	}
	require.NoError(t, p.rbac.AssignRole(context.Background(), userID, role.ID))
}

func (p *portal) call(t *testing.T, method, target string, claims *auth.TokenClaims, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "10.0.0.1:1234"
	if claims != nil {
		raw, err := p.auth.IssueToken(*claims, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	rr := httptest.NewRecorder()
	p.handler.ServeHTTP(rr, req)
	return rr
}

func bearer(userID string) *auth.TokenClaims {
	return &auth.TokenClaims{UserID: userID}
}

func TestHealthEndpoints(t *testing.T) {
	p := newPortal(t)

	rr := p.call(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = p.call(t, http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"redis":"up"}`, rr.Body.String())

	rr = p.call(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminRoutesEnforcePolicies(t *testing.T) {
	p := newPortal(t)
	p.seed(t, 1, "oid-admin", shared.PermViewRoles, shared.PermManageUsers, shared.PermViewUsers)
	p.seed(t, 2, "oid-viewer", shared.PermViewUsers)

	rr := p.call(t, http.MethodGet, "/admin/users/2/roles", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = p.call(t, http.MethodGet, "/admin/users/2/roles", bearer("2"), "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = p.call(t, http.MethodGet, "/admin/users/2/roles", bearer("1"), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"role-2"`)

	rr = p.call(t, http.MethodGet, "/admin/users/2", bearer("2"), "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminSyncRolesThroughRouter(t *testing.T) {
	p := newPortal(t)
	p.seed(t, 1, "oid-admin", shared.PermManageUsers, shared.PermViewRoles)
	p.seed(t, 2, "oid-target")
	extra, err := p.store.AddRole("Editor", "")
	require.NoError(t, err)

	body := `{"role_ids":[` + strconv.FormatInt(extra.ID, 10) + `]}`
	rr := p.call(t, http.MethodPut, "/admin/users/2/roles", bearer("1"), body)
	require.Equal(t, http.StatusNoContent, rr.Code)

	grants, err := p.rbac.RolesForUser(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "Editor", grants[0].Name)
}

func TestSelfPermissionsResolveObjectIdentifier(t *testing.T) {
	p := newPortal(t)
	p.seed(t, 7, "oid-seven", "CanEditContent")

	rr := p.call(t, http.MethodGet, "/me/permissions", &auth.TokenClaims{ObjectID: "oid-seven"}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, []string{"CanEditContent"}, body.Permissions)

	rr = p.call(t, http.MethodGet, "/me/permissions/CanEditContent", bearer("7"), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"permission":"CanEditContent","granted":true}`, rr.Body.String())

	rr = p.call(t, http.MethodGet, "/me/permissions", &auth.TokenClaims{ObjectID: "oid-unknown"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = p.call(t, http.MethodGet, "/me/permissions", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
