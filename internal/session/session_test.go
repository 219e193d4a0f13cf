package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	uid := uuid.New()
	ws := uuid.New()
	sess := &Context{ID: "s1", UserID: &uid, Email: "a@x.com", CurrentWorkspaceID: &ws}
	require.NoError(t, store.Save(ctx, sess))
	assert.True(t, mr.Exists("session:s1"))
	assert.Equal(t, time.Hour, mr.TTL("session:s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uid, *got.UserID)
	assert.Equal(t, ws, *got.CurrentWorkspaceID)
	assert.True(t, got.Authenticated())

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Context{ID: "s2"}))
	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCodec(t *testing.T) {
	codec := NewCodec("secret", time.Hour)
	token, err := codec.Issue("abc")
	require.NoError(t, err)

	id, err := codec.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = NewCodec("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewCodec("secret", -time.Minute).Issue("abc")
	require.NoError(t, err)
	_, err = codec.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManagerLoadSaveRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, _ := newTestStore(t)
	m := NewManager(store, NewCodec("secret", time.Hour), CookieOptions{Name: "crewdesk_session"}, time.Hour, nil)

	var token string
	r := gin.New()
	r.POST("/save", func(c *gin.Context) {
		sess, err := m.Load(c)
		require.NoError(t, err)
		assert.False(t, sess.Authenticated())
		sess.Email = "a@x.com"
		token, err = m.Save(c, sess)
		require.NoError(t, err)
		c.Status(http.StatusNoContent)
	})
	r.GET("/load", func(c *gin.Context) {
		sess, err := m.Load(c)
		require.NoError(t, err)
		c.String(http.StatusOK, sess.Email)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/save", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "crewdesk_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/load", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "a@x.com", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/load", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "a@x.com", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/load", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "", w.Body.String())
}

func TestPendingHelpers(t *testing.T) {
	s := &Context{ID: "x"}
	ws := uuid.New()
	s.SetPending(ws, "tok")
	assert.Equal(t, ws, *s.PendingWorkspaceID)
	s.ClearPending()
	assert.Nil(t, s.PendingWorkspaceID)
	assert.Empty(t, s.ProvisioningToken)
}
