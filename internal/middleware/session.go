package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/pkg/response"
)

// LoadSession loads the request's session once and stores it for session.FromGin.
// Requests without a valid session get an anonymous one.
func LoadSession(m *session.Manager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.Load(c)
		if err != nil {
			logger.Error("session load failed", zap.Error(err))
			response.Internal(c, "session unavailable")
			c.Abort()
			return
		}
		c.Set(session.GinKey, sess)
		c.Next()
	}
}

// RequireUser rejects requests whose session has no signed-in user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !session.FromGin(c).Authenticated() {
			response.Unauthorized(c, "sign in required")
			c.Abort()
			return
		}
		c.Next()
	}
}
