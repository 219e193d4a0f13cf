package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/session"
)

// Logger returns a zap-based request logging middleware.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		clientIP := c.ClientIP()
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
		}
		if sess := session.FromGin(c); sess.Authenticated() {
			fields = append(fields, zap.String("user_id", sess.UserID.String()))
		}
		if ws, _ := WorkspaceFromGin(c); ws != nil {
			fields = append(fields, zap.String("workspace_id", ws.ID.String()))
		}
		logger.Info("request", fields...)
	}
}
