package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
}

// Manager ties the token codec, the store and the HTTP cookie together.
type Manager struct {
	store  Store
	codec  *Codec
	cookie CookieOptions
	ttl    time.Duration
	logger *zap.Logger
}

// NewManager creates a session manager.
func NewManager(store Store, codec *Codec, cookie CookieOptions, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, codec: codec, cookie: cookie, ttl: ttl, logger: logger}
}

// Load returns the session for the request. A missing, expired or tampered token yields a
// fresh anonymous session that is not persisted until Save. Only store failures are errors.
func (m *Manager) Load(c *gin.Context) (*Context, error) {
	token := m.token(c)
	if token == "" {
		return newContext(), nil
	}
	id, err := m.codec.Parse(token)
	if err != nil {
		return newContext(), nil
	}
	sess, err := m.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return newContext(), nil
		}
		return nil, err
	}
	return sess, nil
}

// Save persists sess and (re)issues the cookie. It returns the token for bearer clients.
func (m *Manager) Save(c *gin.Context, sess *Context) (string, error) {
	if err := m.store.Save(c.Request.Context(), sess); err != nil {
		return "", err
	}
	token, err := m.codec.Issue(sess.ID)
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookie.Name, token, int(m.ttl.Seconds()), "/", "", m.cookie.Secure, true)
	return token, nil
}

// Renew moves sess to a new id, removing the old record. Called on sign-in.
func (m *Manager) Renew(c *gin.Context, sess *Context) {
	old := sess.ID
	sess.ID = uuid.NewString()
	if err := m.store.Delete(c.Request.Context(), old); err != nil {
		m.logger.Warn("delete previous session failed", zap.String("session_id", old), zap.Error(err))
	}
}

// Destroy deletes the record and clears the cookie.
func (m *Manager) Destroy(c *gin.Context, sess *Context) error {
	c.SetCookie(m.cookie.Name, "", -1, "/", "", m.cookie.Secure, true)
	return m.store.Delete(c.Request.Context(), sess.ID)
}

func (m *Manager) token(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}
	if v, err := c.Cookie(m.cookie.Name); err == nil {
		return v
	}
	return ""
}

func newContext() *Context {
	return &Context{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
}
