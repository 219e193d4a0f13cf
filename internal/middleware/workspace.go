package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/pkg/response"
)

const (
	// ContextWorkspace is the key for the current *models.Workspace in gin context.
	ContextWorkspace = "workspace"
	// ContextWorkspaceRole is the key for the user's models.Role in the current workspace.
	ContextWorkspaceRole = "workspace_role"
	// ContextWorkspaceErr holds the error when the current workspace could not be loaded.
	ContextWorkspaceErr = "workspace_error"
)

// WorkspaceLookup loads a workspace with the user's role. A nil workspace with a nil error
// means the workspace is gone or the user is not a member.
type WorkspaceLookup interface {
	CurrentWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, models.Role, error)
}

// CurrentWorkspace resolves the session's current workspace for downstream handlers. It never
// aborts; lookup errors are recorded for the subscription gate to decide on.
func CurrentWorkspace(lookup WorkspaceLookup, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.FromGin(c)
		if !sess.Authenticated() || sess.CurrentWorkspaceID == nil {
			c.Next()
			return
		}
		ws, role, err := lookup.CurrentWorkspace(c.Request.Context(), *sess.UserID, *sess.CurrentWorkspaceID)
		if err != nil {
			logger.Error("load current workspace failed",
				zap.String("workspace_id", sess.CurrentWorkspaceID.String()),
				zap.Error(err))
			c.Set(ContextWorkspaceErr, err)
			c.Next()
			return
		}
		if ws == nil {
			sess.CurrentWorkspaceID = nil
			c.Next()
			return
		}
		c.Set(ContextWorkspace, ws)
		c.Set(ContextWorkspaceRole, role)
		c.Next()
	}
}

// WorkspaceFromGin returns the current workspace and role, or nil when none is selected.
func WorkspaceFromGin(c *gin.Context) (*models.Workspace, models.Role) {
	v, ok := c.Get(ContextWorkspace)
	if !ok {
		return nil, ""
	}
	ws, _ := v.(*models.Workspace)
	role, _ := c.Get(ContextWorkspaceRole)
	r, _ := role.(models.Role)
	return ws, r
}

// RequireWorkspaceRole allows only members of the current workspace holding one of roles.
// With no roles, any member passes.
func RequireWorkspaceRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, failed := c.Get(ContextWorkspaceErr); failed {
			response.ServiceUnavailable(c, "workspace unavailable")
			c.Abort()
			return
		}
		ws, role := WorkspaceFromGin(c)
		if ws == nil {
			response.BadRequest(c, "no workspace selected")
			c.Abort()
			return
		}
		if len(allowed) > 0 {
			if _, ok := allowed[role]; !ok {
				response.Forbidden(c, "insufficient permissions")
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
