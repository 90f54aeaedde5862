package policy

import (
	"log/slog"
	"net/http"
)

// DecisionRecorder observes policy outcomes.
type DecisionRecorder interface {
	RecordDecision(policy string, allowed bool)
}

// Middleware wires policy checks into HTTP handlers.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
	Recorder   DecisionRecorder
	// Convention builds policy names for RequirePermission. Zero means DefaultConvention.
	Convention Convention
}

// Require lets the request through only when the caller satisfies policyName.
// Anonymous callers get 401, denied callers 403.
func (m Middleware) Require(policyName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if !p.IsAuthenticated() {
				m.record(policyName, false)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			res := m.Authorizer.Authorize(r.Context(), p, policyName)
			m.record(policyName, res.Allowed)
			if !res.Allowed {
				if m.Logger != nil {
					m.Logger.Info("policy denied request",
						slog.String("policy", policyName),
						slog.String("path", r.URL.Path),
					)
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission is Require with the convention name for permission.
func (m Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	c := m.Convention
	if c == (Convention{}) {
		c = DefaultConvention
	}
	return m.Require(c.Name(permission))
}

func (m Middleware) record(policyName string, allowed bool) {
	if m.Recorder != nil {
		m.Recorder.RecordDecision(policyName, allowed)
	}
}

// CurrentUserID resolves the internal user behind the request principal.
func (m Middleware) CurrentUserID(r *http.Request) (int64, error) {
	return m.Authorizer.ResolveUserID(r.Context(), PrincipalFromContext(r.Context()))
}
