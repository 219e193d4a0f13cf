package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/middleware"
	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/internal/workspaces"
	"github.com/crewdesk/backend/pkg/response"
)

// UserStore persists signed-in users.
type UserStore interface {
	UpsertByEmail(ctx context.Context, email, displayName string) (*models.User, error)
}

// Reconciler binds a signed-in user to a workspace.
type Reconciler interface {
	Reconcile(ctx context.Context, user *models.User, sess *session.Context, hints workspaces.Hints) (*workspaces.Outcome, error)
}

// BootstrapRequest is the body for POST /session.
type BootstrapRequest struct {
	IDToken           string     `json:"id_token" binding:"required"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"display_name"`
	WorkspaceID       *uuid.UUID `json:"workspace_id"`
	ImmediateCreation bool       `json:"immediate_creation"`
}

// BootstrapResponse is returned by POST /session.
type BootstrapResponse struct {
	Token            string                   `json:"token"`
	User             models.UserPublic        `json:"user"`
	CurrentWorkspace *models.WorkspaceSummary `json:"current_workspace"`
	Bound            bool                     `json:"bound"`
	Signal           workspaces.Signal        `json:"signal"`
}

// Handler handles sign-in and session endpoints.
type Handler struct {
	users      UserStore
	verifier   *IdentityVerifier
	reconciler Reconciler
	sessions   *session.Manager
	logger     *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users UserStore, verifier *IdentityVerifier, reconciler Reconciler, sessions *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, verifier: verifier, reconciler: reconciler, sessions: sessions, logger: logger}
}

// Bootstrap handles POST /session. It verifies the ID token, records the user, reconciles
// workspace ownership and establishes the server-side session.
func (h *Handler) Bootstrap(c *gin.Context) {
	var req BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	claims, err := h.verifier.Verify(req.IDToken)
	if err != nil {
		if errors.Is(err, ErrMissingEmail) {
			response.BadRequest(c, "identity has no email")
			return
		}
		if errors.Is(err, ErrEmailNotVerified) {
			response.Unauthorized(c, "email not verified")
			return
		}
		response.Unauthorized(c, "invalid identity token")
		return
	}
	if req.Email != "" && models.NormalizeEmail(req.Email) != claims.Email {
		response.BadRequest(c, "email does not match identity")
		return
	}
	if models.IsPlaceholderEmail(claims.Email) {
		response.BadRequest(c, "email not allowed")
		return
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = claims.Name
	}

	ctx := c.Request.Context()
	user, err := h.users.UpsertByEmail(ctx, claims.Email, displayName)
	if err != nil {
		h.logger.Error("upsert user failed", zap.Error(err))
		response.Internal(c, "failed to sign in")
		return
	}

	sess := session.FromGin(c)
	h.sessions.Renew(c, sess)
	sess.UserID = &user.ID
	sess.Email = user.Email
	sess.DisplayName = user.DisplayName
	sess.CurrentWorkspaceID = nil

	resp := BootstrapResponse{User: user.ToPublic(), Signal: workspaces.SignalNone}
	out, err := h.reconciler.Reconcile(ctx, user, sess, workspaces.Hints{
		WorkspaceID:       req.WorkspaceID,
		ImmediateCreation: req.ImmediateCreation,
	})
	if err != nil {
		h.logger.Warn("workspace reconciliation failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	} else {
		resp.Bound = out.Bound
		resp.Signal = out.Signal
		if out.Workspace != nil {
			summary := out.Workspace.Summary()
			summary.Role = out.Role
			resp.CurrentWorkspace = &summary
		}
	}

	token, err := h.sessions.Save(c, sess)
	if err != nil {
		h.logger.Error("save session failed", zap.Error(err))
		response.Internal(c, "failed to save session")
		return
	}
	resp.Token = token
	response.OK(c, resp)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	sess := session.FromGin(c)
	if err := h.sessions.Destroy(c, sess); err != nil {
		h.logger.Warn("destroy session failed", zap.Error(err))
	}
	response.OK(c, gin.H{"signed_out": true})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	sess := session.FromGin(c)
	data := gin.H{"session": sess.View()}
	if ws, role := middleware.WorkspaceFromGin(c); ws != nil {
		summary := ws.Summary()
		summary.Role = role
		data["workspace"] = summary
	}
	response.OK(c, data)
}
