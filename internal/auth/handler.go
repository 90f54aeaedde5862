package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-portal/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-portal/internal/policy"
	"github.com/odyssey-erp/odyssey-portal/internal/shared"
	"github.com/odyssey-erp/odyssey-portal/internal/users"
)

// Handler wires HTTP endpoints for session exchange.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{logger: logger, service: service, sessionManager: sessions}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/session", h.createSession)
	r.Delete("/session", h.deleteSession)
	r.Get("/whoami", h.whoami)
}

type sessionResponse struct {
	User      users.User `json:"user"`
	Created   bool       `json:"created"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnauthorized, errNoBearer))
		return
	}
	_, claims, err := h.service.VerifyToken(raw)
	if err != nil {
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnauthorized, err))
		return
	}
	user, created, err := h.service.Exchange(r.Context(), claims)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidCredentials):
			httpx.RespondError(w, httpx.Classify(httpx.ErrForbidden, err))
		case errors.Is(err, users.ErrInvalidInput):
			httpx.RespondError(w, httpx.Classify(httpx.ErrValidation, err))
		default:
			h.logger.Error("provision user", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		sess, err = h.sessionManager.Load(r.Context(), r)
		if err != nil {
			h.logger.Error("load session", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}
	now := h.service.now()
	sess.SetUser(user.ID, user.Name, now)
	if err := h.sessionManager.Commit(r.Context(), w, sess); err != nil {
		h.logger.Error("commit session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if created {
		h.logger.Info("user provisioned", slog.Int64("user_id", user.ID))
	}
	httpx.JSON(w, http.StatusCreated, sessionResponse{
		User:      user,
		Created:   created,
		ExpiresAt: now.Add(h.sessionManager.TTL()),
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && !sess.IsNew() {
		h.sessionManager.Destroy(sess)
		if err := h.sessionManager.Commit(r.Context(), w, sess); err != nil {
			h.logger.Warn("destroy session", slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type whoamiResponse struct {
	AuthenticationType string         `json:"authentication_type"`
	Claims             []policy.Claim `json:"claims"`
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	p := policy.PrincipalFromContext(r.Context())
	if !p.IsAuthenticated() {
		httpx.RespondError(w, httpx.Classify(httpx.ErrUnauthorized, shared.ErrNoCredentials))
		return
	}
	httpx.JSON(w, http.StatusOK, whoamiResponse{AuthenticationType: p.AuthenticationType, Claims: p.Claims})
}
