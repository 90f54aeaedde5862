package auth

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-portal/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-portal/internal/policy"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
)

// Middleware attaches the session and principal to each request.
type Middleware struct {
	logger   *slog.Logger
	service  *Service
	sessions *shared.SessionManager
}

// NewMiddleware constructs the authentication middleware.
func NewMiddleware(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Middleware {
	return &Middleware{logger: logger, service: service, sessions: sessions}
}

// Authenticate resolves credentials. A malformed or expired bearer token is
// rejected with 401; a missing one falls back to the session.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := m.sessions.Load(ctx, r)
		if err != nil {
			m.logger.Error("load session", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		ctx = shared.ContextWithSession(ctx, sess)

		principal, err := m.principal(r, sess)
		if err != nil {
			m.logger.Info("bearer token rejected", slog.Any("error", err), slog.String("path", r.URL.Path))
			httpx.RespondError(w, httpx.Classify(httpx.ErrUnauthorized, err))
			return
		}
		if principal != nil {
			ctx = policy.ContextWithPrincipal(ctx, principal)
			if id, ok := principal.FindFirst(policy.ClaimUserID); ok {
				ctx = shared.WithUserID(ctx, id)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) principal(r *http.Request, sess *shared.Session) (*policy.Principal, error) {
	if raw, ok := bearerToken(r.Header.Get("Authorization")); ok {
		p, _, err := m.service.VerifyToken(raw)
		return p, err
	}
	return SessionPrincipal(sess), nil
}
