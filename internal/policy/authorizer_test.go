package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odyssey-erp/odyssey-portal/internal/users"
)

type unknownRequirement struct{}

func (unknownRequirement) String() string { return "unknown" }

func newTestAuthorizer(ctrl *gomock.Controller, catalog *Catalog) (*Authorizer, *MockPermissionChecker, *MockUserFinder) {
	checker := NewMockPermissionChecker(ctrl)
	finder := NewMockUserFinder(ctrl)
	if catalog == nil {
		catalog = NewCatalog()
	}
	resolver := NewConventionResolver(DefaultConvention, catalog)
	return NewAuthorizer(resolver, NewEvaluator(checker, finder, nil), nil), checker, finder
}

func TestAuthorizeConventionPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, checker, _ := newTestAuthorizer(ctrl, nil)
	checker.EXPECT().UserHasPermission(gomock.Any(), int64(42), "ManageUsers").Return(true, nil)

	res := a.Authorize(context.Background(), NewPrincipal("bearer", Claim{Type: ClaimUserID, Value: "42"}), "RequireManageUsersPermission")

	assert.True(t, res.Allowed)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, int64(42), res.Decisions[0].UserID)
}

func TestAuthorizeFallbackNeedsOnlyAuthentication(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, _, _ := newTestAuthorizer(ctrl, nil)

	res := a.Authorize(context.Background(), NewPrincipal("session"), "SomeOtherPolicy")
	assert.True(t, res.Allowed)

	res = a.Authorize(context.Background(), nil, "SomeOtherPolicy")
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonUnauthenticated, res.Decisions[0].Reason)
}

func TestAuthorizeEveryRequirementMustSucceed(t *testing.T) {
	ctrl := gomock.NewController(t)
	catalog := NewCatalog()
	catalog.Add("EditorsWhoAudit", NewPermissionRequirement("Edit"), NewPermissionRequirement("Audit"))
	catalog.Add("Empty")
	catalog.Add("Odd", unknownRequirement{})
	a, checker, _ := newTestAuthorizer(ctrl, catalog)
	checker.EXPECT().UserHasPermission(gomock.Any(), int64(1), "Edit").Return(true, nil)
	checker.EXPECT().UserHasPermission(gomock.Any(), int64(1), "Audit").Return(false, nil)

	p := NewPrincipal("bearer", Claim{Type: ClaimUserID, Value: "1"})
	res := a.Authorize(context.Background(), p, "EditorsWhoAudit")
	assert.False(t, res.Allowed)
	assert.Len(t, res.Decisions, 2)

	assert.False(t, a.Authorize(context.Background(), p, "Empty").Allowed, "no requirements denies")

	res = a.Authorize(context.Background(), p, "Odd")
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonUnsupported, res.Decisions[0].Reason)
}

func TestResolveUserID(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, _, finder := newTestAuthorizer(ctrl, nil)
	finder.EXPECT().FindByExternalToken(gomock.Any(), "oid-9").Return(users.User{ID: 9}, nil)

	id, err := a.ResolveUserID(context.Background(), NewPrincipal("bearer", Claim{Type: ClaimObjectIdentifier, Value: "oid-9"}))
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	_, err = a.ResolveUserID(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedIdentity)

	_, err = a.ResolveUserID(context.Background(), NewPrincipal("bearer"))
	assert.ErrorIs(t, err, ErrMalformedIdentity)
}

type countingRecorder struct {
	allowed, denied int
}

func (r *countingRecorder) RecordDecision(policy string, allowed bool) {
	if allowed {
		r.allowed++
		return
	}
	r.denied++
}

func TestMiddlewareRequirePermission(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, checker, _ := newTestAuthorizer(ctrl, nil)
	checker.EXPECT().UserHasPermission(gomock.Any(), int64(42), "ViewUsers").Return(true, nil)
	checker.EXPECT().UserHasPermission(gomock.Any(), int64(43), "ViewUsers").Return(false, nil)
	recorder := &countingRecorder{}
	m := Middleware{Authorizer: a, Recorder: recorder}

	handler := m.RequirePermission("ViewUsers")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(p *Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		if p != nil {
			req = req.WithContext(ContextWithPrincipal(req.Context(), p))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusOK, serve(NewPrincipal("bearer", Claim{Type: ClaimUserID, Value: "42"})))
	assert.Equal(t, http.StatusForbidden, serve(NewPrincipal("bearer", Claim{Type: ClaimUserID, Value: "43"})))
	assert.Equal(t, 1, recorder.allowed)
	assert.Equal(t, 2, recorder.denied)
}

func TestMiddlewareCurrentUserID(t *testing.T) {
	ctrl := gomock.NewController(t)
	a, _, _ := newTestAuthorizer(ctrl, nil)
	m := Middleware{Authorizer: a}

	req := httptest.NewRequest(http.MethodGet, "/me/permissions", nil)
	req = req.WithContext(ContextWithPrincipal(req.Context(), NewPrincipal("session", Claim{Type: ClaimUserID, Value: "5"})))
	id, err := m.CurrentUserID(req)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}
