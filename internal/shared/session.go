package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data.
type Session struct {
	ID        string
	userID    int64
	name      string
	issuedAt  time.Time
	isNew     bool
	dirty     bool
	destroyed bool

	// rotatedFrom is the stored id replaced by SetUser, pending deletion.
	rotatedFrom string
}

type sessionPayload struct {
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the session named by the request cookie. Requests without a
// cookie, or whose cookie no longer maps to stored data, get a fresh
// anonymous session.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}

	return &Session{
		ID:       cookie.Value,
		userID:   stored.UserID,
		name:     stored.Name,
		issuedAt: stored.IssuedAt,
	}, nil
}

// Commit persists a modified session and writes the cookie. Anonymous
// sessions that were never modified are not stored.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.storedKeys(sess)...).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sess.rotatedFrom = ""
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	if !sess.dirty {
		return nil
	}

	data, err := json.Marshal(sessionPayload{UserID: sess.userID, Name: sess.name, IssuedAt: sess.issuedAt})
	if err != nil {
		return err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return err
	}
	if sess.rotatedFrom != "" {
		if err := sm.client.Del(ctx, sm.redisKey(sess.rotatedFrom)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sess.rotatedFrom = ""
	}
	sess.dirty = false
	sess.isNew = false

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// SetUser binds the session to an internal user and rotates its id. Commit
// deletes the stored record under the previous id.
func (s *Session) SetUser(id int64, name string, at time.Time) {
	if !s.isNew && s.rotatedFrom == "" {
		s.rotatedFrom = s.ID
	}
	s.ID = uuid.NewString()
	s.userID = id
	s.name = name
	s.issuedAt = at
	s.dirty = true
}

// UserID returns the bound user, zero for anonymous sessions.
func (s *Session) UserID() int64 {
	if s == nil {
		return 0
	}
	return s.userID
}

// UserIDString returns UserID formatted for a claim value, empty when anonymous.
func (s *Session) UserIDString() string {
	if s.UserID() == 0 {
		return ""
	}
	return strconv.FormatInt(s.userID, 10)
}

// Name returns the display name captured at sign-in.
func (s *Session) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// IsNew reports whether the session has not been stored yet.
func (s *Session) IsNew() bool {
	return s.isNew
}

func (sm *SessionManager) newSession() *Session {
	return &Session{ID: uuid.NewString(), isNew: true}
}

func (sm *SessionManager) storedKeys(sess *Session) []string {
	keys := []string{sm.redisKey(sess.ID)}
	if sess.rotatedFrom != "" {
		keys = append(keys, sm.redisKey(sess.rotatedFrom))
	}
	return keys
}

func (sm *SessionManager) redisKey(id string) string {
	return "portal:session:" + id
}
