package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", time.Hour, false), mr
}

func loadWithCookie(t *testing.T, sm *SessionManager, id string) *Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != "" {
		req.AddCookie(&http.Cookie{Name: "test_session", Value: id})
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func TestSessionRotationDeletesPreviousRecord(t *testing.T) {
	ctx := context.Background()
	sm, mr := newTestSessions(t)

	sess := loadWithCookie(t, sm, "")
	sess.SetUser(7, "Ana", time.Now())
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	first := sess.ID
	require.True(t, mr.Exists("portal:session:"+first))

	stored := loadWithCookie(t, sm, first)
	require.False(t, stored.IsNew())
	stored.SetUser(8, "Bo", time.Now())
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, stored))

	assert.NotEqual(t, first, stored.ID)
	assert.False(t, mr.Exists("portal:session:"+first))
	assert.True(t, mr.Exists("portal:session:"+stored.ID))
	assert.Equal(t, int64(0), loadWithCookie(t, sm, first).UserID())
	assert.Equal(t, int64(8), loadWithCookie(t, sm, stored.ID).UserID())
}

func TestDestroyAfterRotationDeletesBothRecords(t *testing.T) {
	ctx := context.Background()
	sm, mr := newTestSessions(t)

	sess := loadWithCookie(t, sm, "")
	sess.SetUser(7, "Ana", time.Now())
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	first := sess.ID

	stored := loadWithCookie(t, sm, first)
	stored.SetUser(7, "Ana", time.Now())
	sm.Destroy(stored)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), stored))

	assert.Empty(t, mr.Keys())
}
