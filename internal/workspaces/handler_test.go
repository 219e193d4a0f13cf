package workspaces

import (
	"bytes"
	"context"
	"encoding/json"
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
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/middleware"
	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/session"
)

type testServer struct {
	router   *gin.Engine
	store    *fakeStore
	sessions *session.RedisStore
	codec    *session.Codec
	prov     *Provisioner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p, store, _ := newTestProvisioner(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessStore := session.NewRedisStore(client, time.Hour)
	codec := session.NewCodec("secret", time.Hour)
	manager := session.NewManager(sessStore, codec, session.CookieOptions{Name: "crewdesk_session"}, time.Hour, nil)

	h := NewHandler(p, manager, zap.NewNop())
	r := gin.New()
	r.Use(middleware.LoadSession(manager, zap.NewNop()))
	r.Use(middleware.CurrentWorkspace(store, zap.NewNop()))
	r.POST("/workspaces", h.Create)
	authed := r.Group("", middleware.RequireUser())
	authed.GET("/workspaces", h.ListMine)
	authed.POST("/workspaces/join", h.Join)
	authed.POST("/workspaces/select", h.Select)
	authed.GET("/workspaces/current/members", middleware.RequireWorkspaceRole(), h.ListMembers)

	return &testServer{router: r, store: store, sessions: sessStore, codec: codec, prov: p}
}

// signIn stores an authenticated session and returns its bearer token.
func (s *testServer) signIn(t *testing.T, user *models.User, current *uuid.UUID) string {
	t.Helper()
	sess := &session.Context{ID: uuid.NewString(), UserID: &user.ID, Email: user.Email, CurrentWorkspaceID: current}
	require.NoError(t, s.sessions.Save(context.Background(), sess))
	token, err := s.codec.Issue(sess.ID)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestCreateHandlerAnonymous(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/workspaces", "", map[string]string{
		"name":          "Acme",
		"company_email": "owner@acme.io",
		"company_size":  "enormous",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Workspace         models.WorkspaceSummary `json:"workspace"`
		ImmediateCreation bool                    `json:"immediate_creation"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.True(t, data.ImmediateCreation)
	assert.Len(t, data.Workspace.Code, models.WorkspaceCodeLength)
	assert.Empty(t, data.Workspace.Role)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	id, err := s.codec.Parse(cookies[0].Value)
	require.NoError(t, err)
	sess, err := s.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sess.PendingWorkspaceID)
	assert.Equal(t, data.Workspace.ID, *sess.PendingWorkspaceID)
	assert.NotEmpty(t, sess.ProvisioningToken)
	assert.False(t, sess.Authenticated())

	ws, err := s.store.GetWorkspace(context.Background(), data.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompanySizeNotSpecified, ws.CompanySize)
}

func TestCreateHandlerValidation(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/workspaces", "", map[string]string{"name": "Acme", "company_email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/workspaces", "", map[string]string{"company_email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateHandlerSignedInBindsImmediately(t *testing.T) {
	s := newTestServer(t)
	user := s.store.addUser("owner@acme.io")
	token := s.signIn(t, user, nil)

	w := s.do(http.MethodPost, "/workspaces", token, map[string]string{"name": "Acme", "company_email": "owner@acme.io"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Workspace models.WorkspaceSummary `json:"workspace"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, models.RoleAdmin, data.Workspace.Role)
	assert.Len(t, s.store.admins(data.Workspace.ID), 1)
}

func TestJoinHandler(t *testing.T) {
	s := newTestServer(t)
	created := createWorkspace(t, s.prov, "a@x.com")
	user := s.store.addUser("worker@x.com")
	token := s.signIn(t, user, nil)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/workspaces/join", "", map[string]string{"workspace_code": created.Workspace.Code}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/workspaces/join", token, map[string]string{"workspace_code": "ABC"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/workspaces/join", token, map[string]string{"workspace_code": "ZZZZZZZZ"}).Code)

	w := s.do(http.MethodPost, "/workspaces/join", token, map[string]string{"workspace_code": created.Workspace.Code})
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.WorkspaceSummary
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &summary))
	assert.Equal(t, created.Workspace.ID, summary.ID)
	assert.Equal(t, models.RoleMember, summary.Role)

	w = s.do(http.MethodGet, "/workspaces/current/members", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var members []Member
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, user.ID, members[0].UserID)
}

func TestSelectAndListHandlers(t *testing.T) {
	s := newTestServer(t)
	created := createWorkspace(t, s.prov, "a@x.com")
	user := s.store.addUser("a@x.com")
	token := s.signIn(t, user, nil)

	w := s.do(http.MethodPost, "/workspaces/select", token, map[string]string{"workspace_id": created.Workspace.ID.String()})
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := s.prov.Reconcile(context.Background(), user, nil, Hints{})
	require.NoError(t, err)

	w = s.do(http.MethodPost, "/workspaces/select", token, map[string]string{"workspace_id": created.Workspace.ID.String()})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/workspaces", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.WorkspaceSummary
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, models.RoleAdmin, list[0].Role)

	w = s.do(http.MethodGet, "/workspaces/current/members", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var members []Member
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, models.RoleAdmin, members[0].Role)
}

func TestMembersRequiresCurrentWorkspace(t *testing.T) {
	s := newTestServer(t)
	user := s.store.addUser("a@x.com")
	token := s.signIn(t, user, nil)
	w := s.do(http.MethodGet, "/workspaces/current/members", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
