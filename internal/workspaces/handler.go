package workspaces

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/middleware"
	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/pkg/response"
)

// Handler handles workspace HTTP endpoints.
type Handler struct {
	provisioner *Provisioner
	sessions    *session.Manager
	logger      *zap.Logger
}

// NewHandler creates a workspaces handler.
func NewHandler(provisioner *Provisioner, sessions *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{provisioner: provisioner, sessions: sessions, logger: logger}
}

// CreateWorkspaceRequest is the body for POST /workspaces.
type CreateWorkspaceRequest struct {
	Name         string `json:"name" binding:"required,max=255"`
	CompanyName  string `json:"company_name" binding:"max=255"`
	Country      string `json:"country" binding:"max=100"`
	Industry     string `json:"industry" binding:"max=100"`
	CompanySize  string `json:"company_size"`
	Phone        string `json:"phone" binding:"max=50"`
	CompanyEmail string `json:"company_email" binding:"required,email"`
}

// JoinWorkspaceRequest is the body for POST /workspaces/join.
type JoinWorkspaceRequest struct {
	WorkspaceCode string `json:"workspace_code" binding:"required"`
}

// SelectWorkspaceRequest is the body for POST /workspaces/select.
type SelectWorkspaceRequest struct {
	WorkspaceID uuid.UUID `json:"workspace_id" binding:"required"`
}

// Create handles POST /workspaces. The caller does not need to be signed in; the workspace
// is owned by a placeholder until its admin authenticates.
func (h *Handler) Create(c *gin.Context) {
	var body CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	created, err := h.provisioner.Create(ctx, CreateParams{
		Name:         body.Name,
		CompanyName:  body.CompanyName,
		Country:      body.Country,
		Industry:     body.Industry,
		CompanySize:  body.CompanySize,
		Phone:        body.Phone,
		CompanyEmail: body.CompanyEmail,
	})
	if err != nil {
		h.logger.Error("create workspace failed", zap.Error(err))
		response.Internal(c, "failed to create workspace")
		return
	}

	sess := session.FromGin(c)
	sess.SetPending(created.Workspace.ID, created.ProvisioningToken)
	summary := created.Workspace.Summary()
	if sess.Authenticated() {
		user := &models.User{ID: *sess.UserID, Email: sess.Email, DisplayName: sess.DisplayName}
		out, err := h.provisioner.Reconcile(ctx, user, sess, Hints{})
		if err != nil {
			h.logger.Warn("reconcile after create failed", zap.Error(err))
		} else if out.Workspace != nil && out.Workspace.ID == created.Workspace.ID {
			summary.Role = out.Role
		}
	}
	if _, err := h.sessions.Save(c, sess); err != nil {
		h.logger.Error("save session failed", zap.Error(err))
		response.Internal(c, "failed to save session")
		return
	}
	response.OK(c, gin.H{"workspace": summary, "immediate_creation": true})
}

// Join handles POST /workspaces/join. Adds the user as a Member and makes the workspace current.
func (h *Handler) Join(c *gin.Context) {
	var body JoinWorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "workspace_code required")
		return
	}
	sess := session.FromGin(c)
	ws, role, err := h.provisioner.Join(c.Request.Context(), *sess.UserID, body.WorkspaceCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCode):
			response.BadRequest(c, "workspace_code must be 8 characters")
		case errors.Is(err, ErrWorkspaceNotFound):
			response.NotFound(c, "workspace not found")
		default:
			h.logger.Error("join workspace failed", zap.Error(err))
			response.Internal(c, "failed to join workspace")
		}
		return
	}
	sess.SelectWorkspace(ws.ID)
	if _, err := h.sessions.Save(c, sess); err != nil {
		h.logger.Error("save session failed", zap.Error(err))
		response.Internal(c, "failed to save session")
		return
	}
	summary := ws.Summary()
	summary.Role = role
	response.OK(c, summary)
}

// ListMine handles GET /workspaces.
func (h *Handler) ListMine(c *gin.Context) {
	sess := session.FromGin(c)
	list, err := h.provisioner.ListForUser(c.Request.Context(), *sess.UserID)
	if err != nil {
		h.logger.Error("list workspaces failed", zap.Error(err))
		response.Internal(c, "failed to load workspaces")
		return
	}
	if list == nil {
		list = []models.WorkspaceSummary{}
	}
	response.OK(c, list)
}

// Select handles POST /workspaces/select.
func (h *Handler) Select(c *gin.Context) {
	var body SelectWorkspaceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "workspace_id required")
		return
	}
	sess := session.FromGin(c)
	ws, role, err := h.provisioner.Select(c.Request.Context(), *sess.UserID, body.WorkspaceID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotMember), errors.Is(err, ErrWorkspaceNotFound):
			response.Forbidden(c, "not a member of this workspace")
		default:
			h.logger.Error("select workspace failed", zap.Error(err))
			response.Internal(c, "failed to select workspace")
		}
		return
	}
	sess.SelectWorkspace(ws.ID)
	if _, err := h.sessions.Save(c, sess); err != nil {
		h.logger.Error("save session failed", zap.Error(err))
		response.Internal(c, "failed to save session")
		return
	}
	summary := ws.Summary()
	summary.Role = role
	response.OK(c, summary)
}

// ListMembers handles GET /workspaces/current/members.
func (h *Handler) ListMembers(c *gin.Context) {
	ws, _ := middleware.WorkspaceFromGin(c)
	members, err := h.provisioner.ListMembers(c.Request.Context(), ws.ID)
	if err != nil {
		h.logger.Error("list members failed", zap.Error(err))
		response.Internal(c, "failed to load members")
		return
	}
	if members == nil {
		members = []Member{}
	}
	response.OK(c, members)
}
